package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/session"
	"github.com/rs/zerolog/log"
)

// Lobby pairs arriving connections into sessions and keeps the registry of
// running sessions.
type Lobby struct {
	games  Games
	rounds session.RoundSource
	newID  func() string

	mu       sync.Mutex
	waiting  []*Connection
	sessions map[string]*session.Session
}

// NewLobby creates a lobby whose sessions draw rounds from rounds
func NewLobby(games Games, rounds session.RoundSource) *Lobby {
	return &Lobby{
		games:    games,
		rounds:   rounds,
		newID:    uuid.NewString,
		sessions: make(map[string]*session.Session),
	}
}

// Join queues c, or pairs it with the longest-waiting connection and starts
// their game. The waiting player speaks; the arriving one listens.
func (l *Lobby) Join(ctx context.Context, c *Connection) error {
	l.mu.Lock()
	if len(l.waiting) == 0 {
		l.waiting = append(l.waiting, c)
		l.mu.Unlock()

		if err := c.Emit(events.Waiting, events.WaitingPayload{}); err != nil {
			log.Warn().Err(err).Str("user_id", c.UserID).Msg("failed to send waiting")
		}
		return nil
	}

	partner := l.waiting[0]
	l.waiting = l.waiting[1:]
	if partner.UserID == c.UserID {
		c.UserID = c.UserID + "-" + c.ID[:8]
	}

	speaker := &session.Player{UserID: partner.UserID, Role: session.RoleSpeaker, Instance: partner}
	listener := &session.Player{UserID: c.UserID, Role: session.RoleListener, Instance: c}

	sess := session.New(l.newID(), l.rounds)
	sess.AddPlayer(speaker)
	sess.AddPlayer(listener)
	l.sessions[sess.ID] = sess
	l.mu.Unlock()

	partner.bind(sess)
	c.bind(sess)

	log.Info().
		Str("session_id", sess.ID).
		Str("speaker", speaker.UserID).
		Str("listener", listener.UserID).
		Msg("players paired")

	for _, p := range []*session.Player{speaker, listener} {
		payload := events.RoleAssignedPayload{Role: p.Role, SessionID: sess.ID}
		if err := p.Instance.Emit(events.RoleAssigned, payload); err != nil {
			log.Warn().Err(err).Str("user_id", p.UserID).Msg("failed to send role")
		}
	}

	if err := l.games.StartGame(ctx, sess); err != nil {
		// Without data files the game cannot run; drop both players so their
		// clients reconnect into a fresh session
		l.End(sess)
		partner.close()
		c.close()
		return fmt.Errorf("session %s: %w", sess.ID, err)
	}

	// The partner may have dropped before it was bound
	if partner.closed() {
		l.Leave(partner)
	}
	return nil
}

// Leave removes c from the queue, or from its session. A remaining partner is
// told and the session ends.
func (l *Lobby) Leave(c *Connection) {
	l.mu.Lock()
	for i, w := range l.waiting {
		if w == c {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	sess := c.Session()
	if sess == nil {
		return
	}

	sess.Mu.Lock()
	sess.RemovePlayer(c.UserID)
	remaining := sess.ActivePlayers()
	ended := sess.Ended()
	sess.Mu.Unlock()

	if !ended {
		for _, p := range remaining {
			if err := p.Instance.Emit(events.PartnerLeft, events.PartnerLeftPayload{User: c.UserID}); err != nil {
				log.Warn().Err(err).Str("user_id", p.UserID).Msg("failed to send partnerLeft")
			}
		}
	}
	l.End(sess)
}

// End drops sess from the registry and ends its game
func (l *Lobby) End(sess *session.Session) {
	l.mu.Lock()
	delete(l.sessions, sess.ID)
	l.mu.Unlock()

	if err := l.games.EndGame(sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to end game")
	}
}

// EndAll ends every running session
func (l *Lobby) EndAll() {
	for _, sess := range l.Sessions() {
		l.End(sess)
	}
}

// Session looks up a running session
func (l *Lobby) Session(id string) (*session.Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[id]
	return sess, ok
}

// Sessions returns the running sessions ordered by id
func (l *Lobby) Sessions() []*session.Session {
	l.mu.Lock()
	out := make([]*session.Session, 0, len(l.sessions))
	for _, sess := range l.sessions {
		out = append(out, sess)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Waiting is the number of unpaired connections
func (l *Lobby) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiting)
}
