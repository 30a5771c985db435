package trials

import (
	"math/rand"
	"sync"

	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/session"
	"github.com/rs/zerolog/log"
)

// Generator builds per-session trial lists and advances rounds
type Generator struct {
	catalog *Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator drawing from catalog with the given seed
func NewGenerator(catalog *Catalog, seed int64) *Generator {
	return &Generator{
		catalog: catalog,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// BuildTrials returns one context per round. Each repetition block makes every
// object the target once, in shuffled order.
func (g *Generator) BuildTrials() [][]session.Stimulus {
	g.mu.Lock()
	defer g.mu.Unlock()

	objects := g.catalog.Objects
	trials := make([][]session.Stimulus, 0, g.catalog.Rounds())

	for rep := 1; rep <= g.catalog.Repetitions; rep++ {
		for _, ti := range g.rng.Perm(len(objects)) {
			ctx := make([]session.Stimulus, 0, g.catalog.ContextSize)
			ctx = append(ctx, session.Stimulus{
				Name:         objects[ti].Name,
				Color:        objects[ti].Color,
				Occurrence:   rep,
				TargetStatus: session.Target,
			})

			for _, di := range g.rng.Perm(len(objects)) {
				if len(ctx) == g.catalog.ContextSize {
					break
				}
				if di == ti {
					continue
				}
				ctx = append(ctx, session.Stimulus{
					Name:         objects[di].Name,
					Color:        objects[di].Color,
					Occurrence:   rep,
					TargetStatus: session.NonTarget,
				})
			}

			g.rng.Shuffle(len(ctx), func(i, j int) { ctx[i], ctx[j] = ctx[j], ctx[i] })
			trials = append(trials, ctx)
		}
	}
	return trials
}

// NewRound moves s to its next round and announces it to every player.
// The first call builds the trial list. Once the list is exhausted the
// session is marked finished and players are told so. Callers hold s.Mu.
func (g *Generator) NewRound(s *session.Session) error {
	if !s.Started {
		s.Trial.List = g.BuildTrials()
		s.RoundNum = 0
		s.Started = true
	} else if !s.Finished {
		s.RoundNum++
	}

	if s.Finished || s.RoundNum >= len(s.Trial.List) {
		if !s.Finished {
			// stay on the last round so late rows still resolve a target
			s.RoundNum = len(s.Trial.List) - 1
			s.Finished = true
			log.Info().Str("session_id", s.ID).Int("rounds", len(s.Trial.List)).Msg("trial list exhausted")
		}
		for _, p := range s.ActivePlayers() {
			if err := p.Instance.Emit(events.Finished, events.FinishedPayload{Rounds: len(s.Trial.List)}); err != nil {
				log.Warn().Err(err).Str("session_id", s.ID).Str("user_id", p.UserID).Msg("failed to send finished")
			}
		}
		return nil
	}

	s.Trial.CurrStim = s.Trial.List[s.RoundNum]
	views := make([]events.StimulusView, len(s.Trial.CurrStim))
	for i, st := range s.Trial.CurrStim {
		views[i] = events.StimulusView{
			Name:         st.Name,
			Color:        st.Color,
			Occurrence:   st.Occurrence,
			TargetStatus: string(st.TargetStatus),
		}
	}

	for _, p := range s.ActivePlayers() {
		payload := events.NewRoundPayload{RoundNum: s.RoundNum + 1, Role: p.Role, Objects: views}
		if err := p.Instance.Emit(events.NewRound, payload); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Str("user_id", p.UserID).Msg("failed to send new round")
		}
	}

	log.Debug().
		Str("session_id", s.ID).
		Int("round", s.RoundNum+1).
		Int("rounds", len(s.Trial.List)).
		Msg("round started")
	return nil
}
