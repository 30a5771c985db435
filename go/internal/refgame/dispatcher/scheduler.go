package dispatcher

import (
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/session"
	"github.com/rs/zerolog/log"
)

// scheduleRoundAdvance arms a one-shot timer that, after RoundAdvanceDelay,
// tells every player a new round is coming and starts it. Timers are not
// coalesced: each click schedules its own advance. The caller holds the
// session lock.
func (d *Dispatcher) scheduleRoundAdvance(sess *session.Session, userID string) {
	timer := d.clock.NewTimer(d.config.RoundAdvanceDelay)
	sess.TrackTimer(timer)
	ctx := sess.Context()

	go func(t clockwork.Timer) {
		select {
		case <-t.Chan():
			d.advanceRound(sess, t, userID)
		case <-ctx.Done():
			// Session ended - stop timer and let it go
			stopAndDrainTimer(t)
			log.Debug().Str("session_id", sess.ID).Msg("round advance cancelled")
		}
	}(timer)

	log.Debug().
		Str("session_id", sess.ID).
		Str("user_id", userID).
		Dur("delay", d.config.RoundAdvanceDelay).
		Int("pending", sess.PendingTimers()).
		Msg("scheduled round advance")
}

func (d *Dispatcher) advanceRound(sess *session.Session, t clockwork.Timer, userID string) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	sess.UntrackTimer(t)
	if sess.Ended() {
		return
	}

	payload := events.NewRoundUpdatePayload{User: userID}
	for _, p := range sess.ActivePlayers() {
		emit(sess, p, events.NewRoundUpdate, payload)
	}

	if err := sess.NewRound(); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to start new round")
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
