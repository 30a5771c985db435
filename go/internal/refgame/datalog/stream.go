package datalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Stream is an append-only sink for log lines
type Stream interface {
	// WriteLine appends line followed by a newline
	WriteLine(line string) error
	Close() error
}

// FileStream appends lines to a CSV file
type FileStream struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFileStream creates (truncating) the file at path, creating parent
// directories as needed, and writes header as its first line.
func OpenFileStream(path, header string) (*FileStream, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create data file: %w", err)
	}

	fs := &FileStream{f: f, path: path}
	if header != "" {
		if err := fs.WriteLine(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return fs, nil
}

// Path returns the file location
func (s *FileStream) Path() string {
	return s.path
}

func (s *FileStream) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return os.ErrClosed
	}
	_, err := s.f.WriteString(line + "\n")
	return err
}

func (s *FileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Tee writes every line to a primary stream and then to its mirrors. Only
// the primary's errors are returned; a mirror that fails is logged and
// counted in Failures, and the line is still considered written.
type Tee struct {
	Primary Stream
	Mirrors []Stream

	SessionID string
	LogType   string
	// Failures, when set, counts mirror writes that failed
	Failures *atomic.Uint64
}

func (t *Tee) WriteLine(line string) error {
	if err := t.Primary.WriteLine(line); err != nil {
		return err
	}
	for _, m := range t.Mirrors {
		if err := m.WriteLine(line); err != nil {
			t.mirrorFailed(err, "failed to mirror log line")
		}
	}
	return nil
}

// Close closes the mirrors and then the primary, returning the primary's error
func (t *Tee) Close() error {
	for _, m := range t.Mirrors {
		if err := m.Close(); err != nil {
			t.mirrorFailed(err, "failed to close log mirror")
		}
	}
	return t.Primary.Close()
}

func (t *Tee) mirrorFailed(err error, msg string) {
	if t.Failures != nil {
		t.Failures.Add(1)
	}
	log.Error().
		Err(err).
		Str("session_id", t.SessionID).
		Str("log_type", t.LogType).
		Msg(msg)
}

// MirrorOpener opens an additional stream for a session log type
type MirrorOpener interface {
	Open(ctx context.Context, sessionID, logType string) (Stream, error)
}
