// Package dispatcher applies client messages to a session: it logs clicks and
// chat, relays events between the two players, and advances rounds on a timer
// after each click.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/refgame/go/internal/refgame/datalog"
	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/message"
	"github.com/mcdev12/refgame/go/internal/refgame/session"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownPlayer is returned when a message comes from someone not in the session
	ErrUnknownPlayer = errors.New("player not in session")
	// ErrNoStream is returned when a row is written before StartGame
	ErrNoStream = errors.New("no stream for log type")
)

// RequiredPlayers is the roster size at which chat is accepted
const RequiredPlayers = 2

// Config holds dispatcher settings
type Config struct {
	// RoundAdvanceDelay is the wait between a click and the next round, long
	// enough for client feedback animations to finish
	RoundAdvanceDelay time.Duration
	// UnescapeAllInLog writes chat rows with every ~~~ restored to '.'.
	// Off by default: logged rows restore only the first, as the data files
	// always have, while the broadcast restores all.
	UnescapeAllInLog bool
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		RoundAdvanceDelay: 3000 * time.Millisecond,
		UnescapeAllInLog:  false,
	}
}

// Establisher opens the data stream of one log type for a session
type Establisher interface {
	Establish(ctx context.Context, sessionID, logType, fileName, header string) (datalog.Stream, error)
}

// Dispatcher handles inbound messages for every session
type Dispatcher struct {
	establisher Establisher
	clock       clockwork.Clock
	config      Config
}

// New creates a Dispatcher. In production pass clockwork.NewRealClock(); in
// tests, a fake clock.
func New(establisher Establisher, clock clockwork.Clock, config Config) *Dispatcher {
	return &Dispatcher{
		establisher: establisher,
		clock:       clock,
		config:      config,
	}
}

// OnMessage parses raw and applies it to the client's session. Messages
// before the first round and unknown tags are ignored; malformed messages,
// failed writes and rounds without a target are returned as errors.
func (d *Dispatcher) OnMessage(client session.Client, raw string) error {
	sess := client.Session
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Ended() {
		return nil
	}
	if !sess.Started {
		log.Debug().Str("session_id", sess.ID).Str("user_id", client.UserID).Msg("dropping message before first round")
		return nil
	}

	msg, err := message.Parse(raw)
	if errors.Is(err, message.ErrUnknownType) {
		log.Debug().Str("session_id", sess.ID).Str("user_id", client.UserID).Err(err).Msg("ignoring message")
		return nil
	}
	if err != nil {
		return err
	}

	actor := sess.Player(client.UserID)
	if actor == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, client.UserID)
	}

	switch m := msg.(type) {
	case message.ClickedObj:
		return d.handleClick(client, actor, m)

	case message.PlayerTyping:
		for _, p := range sess.Others(client.UserID) {
			emit(sess, p, events.PlayerTyping, events.PlayerTypingPayload{Typing: m.Typing})
		}

	case message.ChatMessage:
		if sess.PlayerCount() != RequiredPlayers || sess.Paused {
			log.Debug().
				Str("session_id", sess.ID).
				Int("players", sess.PlayerCount()).
				Bool("paused", sess.Paused).
				Msg("dropping chat message")
			return nil
		}
		if err := d.WriteData(client, datalog.TypeMessage, m); err != nil {
			return err
		}
		payload := events.ChatMessagePayload{User: client.UserID, Msg: message.UnescapeAll(m.Text)}
		for _, p := range sess.ActivePlayers() {
			emit(sess, p, events.ChatMessage, payload)
		}

	case message.Heartbeat:
		actor.Visible = m.Visible
	}
	return nil
}

func (d *Dispatcher) handleClick(client session.Client, actor *session.Player, m message.ClickedObj) error {
	sess := client.Session
	if err := d.WriteData(client, datalog.TypeClickedObj, m); err != nil {
		return err
	}

	feedback := events.FeedbackPrefix + m.ClickedName
	if others := sess.Others(client.UserID); len(others) > 0 {
		send(sess, others[0], feedback)
	} else {
		log.Warn().Str("session_id", sess.ID).Msg("click feedback has no partner to reach")
	}
	send(sess, actor, feedback)

	d.scheduleRoundAdvance(sess, client.UserID)
	return nil
}

// WriteData appends the row for msg to the session stream of logType. The
// caller holds the session lock.
func (d *Dispatcher) WriteData(client session.Client, logType string, msg message.Message) error {
	sess := client.Session
	target, err := sess.Target()
	if err != nil {
		return fmt.Errorf("write %s row: %w", logType, err)
	}
	now := d.clock.Now()

	var fields []string
	switch m := msg.(type) {
	case message.ClickedObj:
		fields = datalog.ClickRecord{
			SessionID:    sess.ID,
			Time:         now,
			RoundNum:     sess.RoundNum + 1,
			Occurrence:   target.Occurrence,
			IntendedName: target.Name,
			ClickedName:  m.ClickedName,
			ObjBox:       m.ObjBox,
		}.Fields()

	case message.ChatMessage:
		text := message.UnescapeFirst(m.Text)
		if d.config.UnescapeAllInLog {
			text = message.UnescapeAll(m.Text)
		}
		var role string
		if p := sess.Player(client.UserID); p != nil {
			role = p.Role
		}
		fields = datalog.MessageRecord{
			SessionID:    sess.ID,
			Time:         now,
			RoundNum:     sess.RoundNum + 1,
			Occurrence:   target.Occurrence,
			Role:         role,
			IntendedName: target.Name,
			TimeElapsed:  m.TimeElapsed,
			Msg:          text,
		}.Fields()

	default:
		return fmt.Errorf("write %s row: unsupported message %s", logType, msg.Type())
	}

	line := datalog.Line(fields)
	log.Debug().Str("session_id", sess.ID).Str("log_type", logType).Str("line", line).Msg("data row")

	stream, ok := sess.Streams[logType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStream, logType)
	}
	if err := stream.WriteLine(line); err != nil {
		return fmt.Errorf("write %s row: %w", logType, err)
	}
	return nil
}

// StartGame opens the session's message and clickedObj streams, each with its
// header, and starts the first round. It must run once per session.
func (d *Dispatcher) StartGame(ctx context.Context, sess *session.Session) error {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Ended() {
		log.Debug().Str("session_id", sess.ID).Msg("session ended before game start")
		return nil
	}

	fileName := datalog.FileName(d.clock.Now(), sess.ID)
	for _, logType := range []string{datalog.TypeMessage, datalog.TypeClickedObj} {
		stream, err := d.establisher.Establish(ctx, sess.ID, logType, fileName, datalog.Headers[logType])
		if err != nil {
			return fmt.Errorf("start game: %w", err)
		}
		sess.Streams[logType] = stream
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("file", fileName).
		Int("players", sess.PlayerCount()).
		Msg("game started")

	return sess.NewRound()
}

// RelayStroke forwards a drawing stroke verbatim to every other player
func (d *Dispatcher) RelayStroke(client session.Client, payload json.RawMessage) {
	sess := client.Session
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Ended() {
		return
	}
	for _, p := range sess.Others(client.UserID) {
		emit(sess, p, events.Stroke, payload)
	}
}

// EndGame stops pending round advances and closes the session's streams
func (d *Dispatcher) EndGame(sess *session.Session) error {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Ended() {
		return nil
	}
	pending := sess.PendingTimers()
	if err := sess.End(); err != nil {
		return fmt.Errorf("end game: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID).
		Int("round", sess.RoundNum+1).
		Int("cancelled_advances", pending).
		Msg("game ended")
	return nil
}

func emit(sess *session.Session, p *session.Player, event string, payload any) {
	if err := p.Instance.Emit(event, payload); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sess.ID).
			Str("user_id", p.UserID).
			Str("event", event).
			Msg("failed to emit event")
	}
}

func send(sess *session.Session, p *session.Player, raw string) {
	if err := p.Instance.Send(raw); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sess.ID).
			Str("user_id", p.UserID).
			Msg("failed to send raw frame")
	}
}
