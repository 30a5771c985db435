// Package session holds the state of one two-player game. Callers hold
// Session.Mu around every access.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/refgame/go/internal/refgame/datalog"
)

// ErrNoTarget is returned when the current round holds no target stimulus
var ErrNoTarget = errors.New("no target stimulus in current round")

// Roles assigned to the two players of a session
const (
	RoleSpeaker  = "speaker"
	RoleListener = "listener"
)

// TargetStatus marks whether a stimulus is the correct answer
type TargetStatus string

const (
	Target    TargetStatus = "target"
	NonTarget TargetStatus = "non-target"
)

// Stimulus is one object shown during a round
type Stimulus struct {
	Name         string
	Color        string
	Occurrence   int
	TargetStatus TargetStatus
}

// Peer is the live connection of a player
type Peer interface {
	// Send writes a raw text frame
	Send(raw string) error
	// Emit writes a structured event
	Emit(event string, payload any) error
}

// Player is one participant of a session
type Player struct {
	UserID   string
	Role     string
	Visible  string
	Instance Peer
}

// Client binds one connection to its player and session
type Client struct {
	UserID  string
	Session *Session
}

// TrialInfo holds the full round schedule and the stimuli of the current round
type TrialInfo struct {
	List     [][]Stimulus
	CurrStim []Stimulus
}

// RoundSource advances a session to its next round
type RoundSource interface {
	NewRound(s *Session) error
}

// Session is one two-player game.
//
// Mu guards every field and must be held while reading or mutating the
// session; the dispatcher holds it for the whole handling of one message.
type Session struct {
	Mu sync.Mutex

	ID       string
	RoundNum int
	Started  bool
	Paused   bool
	Finished bool
	Trial    TrialInfo
	Streams  map[string]datalog.Stream

	players []*Player
	rounds  RoundSource

	ctx     context.Context
	cancel  context.CancelFunc
	pending map[clockwork.Timer]struct{}
	ended   bool
}

// New creates a session whose rounds come from rounds
func New(id string, rounds RoundSource) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:      id,
		Streams: make(map[string]datalog.Stream),
		rounds:  rounds,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[clockwork.Timer]struct{}),
	}
}

// Context is cancelled when the session ends
func (s *Session) Context() context.Context {
	return s.ctx
}

// NewRound asks the round source for the next round
func (s *Session) NewRound() error {
	return s.rounds.NewRound(s)
}

// AddPlayer appends p to the roster
func (s *Session) AddPlayer(p *Player) {
	s.players = append(s.players, p)
}

// RemovePlayer drops the player with userID, returning it if present
func (s *Session) RemovePlayer(userID string) *Player {
	for i, p := range s.players {
		if p.UserID == userID {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return p
		}
	}
	return nil
}

// PlayerCount is the number of players currently in the session
func (s *Session) PlayerCount() int {
	return len(s.players)
}

// ActivePlayers returns every player in join order
func (s *Session) ActivePlayers() []*Player {
	out := make([]*Player, len(s.players))
	copy(out, s.players)
	return out
}

// Player looks up a player by id
func (s *Session) Player(userID string) *Player {
	for _, p := range s.players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Others returns every player except userID, in join order
func (s *Session) Others(userID string) []*Player {
	var out []*Player
	for _, p := range s.players {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

// Target returns the target stimulus of the current round
func (s *Session) Target() (Stimulus, error) {
	for _, st := range s.Trial.CurrStim {
		if st.TargetStatus == Target {
			return st, nil
		}
	}
	return Stimulus{}, ErrNoTarget
}

// TrackTimer records a pending timer so End can stop it
func (s *Session) TrackTimer(t clockwork.Timer) {
	s.pending[t] = struct{}{}
}

// UntrackTimer forgets a timer that has fired
func (s *Session) UntrackTimer(t clockwork.Timer) {
	delete(s.pending, t)
}

// PendingTimers is the number of scheduled, unfired timers
func (s *Session) PendingTimers() int {
	return len(s.pending)
}

// Ended reports whether End has run
func (s *Session) Ended() bool {
	return s.ended
}

// End stops pending timers, cancels the context and closes every stream.
// Calling it again is a no-op.
func (s *Session) End() error {
	if s.ended {
		return nil
	}
	s.ended = true
	s.Finished = true
	s.cancel()

	for t := range s.pending {
		t.Stop()
	}
	clear(s.pending)

	var errs []error
	for _, st := range s.Streams {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
