package datalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS refgame_log_lines (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT        NOT NULL,
    log_type   TEXT        NOT NULL,
    line       TEXT        NOT NULL,
    logged_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertLogLine = `
INSERT INTO refgame_log_lines (session_id, log_type, line)
VALUES ($1, $2, $3)`

// PostgresMirror copies every log line into refgame_log_lines
type PostgresMirror struct {
	pool         *pgxpool.Pool
	writeTimeout time.Duration
}

// NewPostgresMirror connects to dsn and makes sure the table exists
func NewPostgresMirror(ctx context.Context, dsn string) (*PostgresMirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	m := &PostgresMirror{pool: pool, writeTimeout: 5 * time.Second}
	if err := m.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("postgres log mirror ready")
	return m, nil
}

// Name identifies the mirror in health reports
func (m *PostgresMirror) Name() string { return "postgres" }

// Check pings the pool
func (m *PostgresMirror) Check(ctx context.Context) error {
	return m.pool.Ping(ctx)
}

// EnsureSchema creates the log table if needed
func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, createLogLinesTable); err != nil {
		return fmt.Errorf("create log table: %w", err)
	}
	return nil
}

// Open returns a stream bound to one session and log type
func (m *PostgresMirror) Open(_ context.Context, sessionID, logType string) (Stream, error) {
	return &PostgresStream{mirror: m, sessionID: sessionID, logType: logType}, nil
}

// Lines returns the lines stored for a session and log type in insertion order
func (m *PostgresMirror) Lines(ctx context.Context, sessionID, logType string) ([]string, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT line FROM refgame_log_lines WHERE session_id = $1 AND log_type = $2 ORDER BY id`,
		sessionID, logType)
	if err != nil {
		return nil, fmt.Errorf("query log lines: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Close releases the pool
func (m *PostgresMirror) Close() {
	m.pool.Close()
}

// PostgresStream inserts one row per line
type PostgresStream struct {
	mirror    *PostgresMirror
	sessionID string
	logType   string
}

func (s *PostgresStream) WriteLine(line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.mirror.writeTimeout)
	defer cancel()

	if _, err := s.mirror.pool.Exec(ctx, insertLogLine, s.sessionID, s.logType, line); err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the mirror
func (s *PostgresStream) Close() error {
	return nil
}
