package datalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Establisher opens the streams of a session: a CSV file per log type under
// DataDir, teed with any configured mirrors.
type Establisher struct {
	DataDir string
	Mirrors []MirrorOpener

	failures atomic.Uint64
}

// NewEstablisher creates an Establisher writing under dataDir
func NewEstablisher(dataDir string, mirrors ...MirrorOpener) *Establisher {
	return &Establisher{DataDir: dataDir, Mirrors: mirrors}
}

// Establish creates <DataDir>/<logType>/<fileName>, writes header, and returns
// the stream for logType. An existing file is truncated. Only a failure to
// create the file is returned; mirrors that cannot be opened are skipped.
func (e *Establisher) Establish(ctx context.Context, sessionID, logType, fileName, header string) (Stream, error) {
	path := filepath.Join(e.DataDir, logType, fileName)
	file, err := OpenFileStream(path, header)
	if err != nil {
		return nil, fmt.Errorf("establish %s stream: %w", logType, err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("log_type", logType).
		Str("path", path).
		Msg("data stream established")

	if len(e.Mirrors) == 0 {
		return file, nil
	}

	tee := &Tee{Primary: file, SessionID: sessionID, LogType: logType, Failures: &e.failures}
	for _, m := range e.Mirrors {
		s, err := m.Open(ctx, sessionID, logType)
		if err != nil {
			// The CSV file is the record; the session runs without this mirror
			tee.mirrorFailed(err, "failed to open log mirror")
			continue
		}
		tee.Mirrors = append(tee.Mirrors, s)
	}
	return tee, nil
}

// Name identifies the counter in health reports
func (e *Establisher) Name() string { return "mirror_failures" }

// Count is the number of mirror opens, writes and closes that failed
func (e *Establisher) Count() uint64 {
	return e.failures.Load()
}
