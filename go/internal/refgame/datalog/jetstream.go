package datalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds settings for the NATS log mirror
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration // How long to keep lines
	PublishWait   time.Duration
}

// DefaultJetStreamConfig returns defaults for a local NATS server
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "REFGAME_DATA",
		SubjectPrefix: "refgame.data",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        30 * 24 * time.Hour,
		PublishWait:   5 * time.Second,
	}
}

// JetStreamMirror publishes every log line to JetStream
type JetStreamMirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamMirror connects to NATS and ensures the data stream exists
func NewJetStreamMirror(ctx context.Context, cfg JetStreamConfig) (*JetStreamMirror, error) {
	opts := []nats.Option{
		nats.Name("refgame-datalog"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	m := &JetStreamMirror{nc: nc, js: js, config: cfg}
	if err := m.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return m, nil
}

func (m *JetStreamMirror) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        m.config.StreamName,
		Description: "Reference game data lines",
		Subjects:    []string{m.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
	if _, err := m.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return err
	}
	log.Info().Str("stream", m.config.StreamName).Msg("JetStream data stream ready")
	return nil
}

// Open returns a stream bound to one session and log type
func (m *JetStreamMirror) Open(_ context.Context, sessionID, logType string) (Stream, error) {
	return &JetStreamStream{mirror: m, sessionID: sessionID, logType: logType}, nil
}

// Name identifies the mirror in health reports
func (m *JetStreamMirror) Name() string { return "nats" }

// Check fails while the connection is down or the data stream is missing
func (m *JetStreamMirror) Check(ctx context.Context) error {
	if !m.nc.IsConnected() {
		return errors.New("NATS disconnected")
	}
	if _, err := m.js.Stream(ctx, m.config.StreamName); err != nil {
		return fmt.Errorf("stream %s: %w", m.config.StreamName, err)
	}
	return nil
}

// Close drains the connection
func (m *JetStreamMirror) Close() {
	if err := m.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}

// Subject returns the subject a log type is published on
func Subject(prefix, logType string) string {
	return prefix + "." + logType
}

// lineMsg builds the NATS message for one line
func lineMsg(prefix, sessionID, logType, line string) *nats.Msg {
	return &nats.Msg{
		Subject: Subject(prefix, logType),
		Data:    []byte(line),
		Header: nats.Header{
			"Session-ID": []string{sessionID},
			"Log-Type":   []string{logType},
		},
	}
}

// JetStreamStream publishes lines for one session and log type
type JetStreamStream struct {
	mirror    *JetStreamMirror
	sessionID string
	logType   string
}

func (s *JetStreamStream) WriteLine(line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.mirror.config.PublishWait)
	defer cancel()

	msg := lineMsg(s.mirror.config.SubjectPrefix, s.sessionID, s.logType, line)
	if _, err := s.mirror.js.PublishMsg(ctx, msg, jetstream.WithMsgID(uuid.NewString())); err != nil {
		return fmt.Errorf("publish log line: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the mirror
func (s *JetStreamStream) Close() error {
	return nil
}
