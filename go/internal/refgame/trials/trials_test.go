package trials

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/session"
)

const testCatalog = `
repetitions: 2
context_size: 3
objects:
  - {name: a, color: "#000"}
  - {name: b, color: "#111"}
  - {name: c, color: "#222"}
  - {name: d, color: "#333"}
`

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c
}

func TestParseCatalogValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no repetitions", "repetitions: 0\ncontext_size: 2\nobjects: [{name: a}, {name: b}]"},
		{"context too small", "repetitions: 1\ncontext_size: 1\nobjects: [{name: a}, {name: b}]"},
		{"context too large", "repetitions: 1\ncontext_size: 3\nobjects: [{name: a}, {name: b}]"},
		{"missing name", "repetitions: 1\ncontext_size: 2\nobjects: [{name: a}, {color: red}]"},
		{"duplicate name", "repetitions: 1\ncontext_size: 2\nobjects: [{name: a}, {name: a}]"},
		{"name with delimiter", "repetitions: 1\ncontext_size: 2\nobjects: [{name: \"red.circle\"}, {name: b}]"},
		{"name with comma", "repetitions: 1\ncontext_size: 2\nobjects: [{name: a}, {name: \"blue,square\"}]"},
		{"name with sentinel", "repetitions: 1\ncontext_size: 2\nobjects: [{name: \"red~~~circle\"}, {name: b}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			if !errors.Is(err, ErrInvalidCatalog) {
				t.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestBundledCatalogLoads(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "assets", "stimuli.yaml")
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load bundled catalog: %v", err)
	}
	if c.Rounds() == 0 {
		t.Fatal("bundled catalog yields no rounds")
	}
}

func TestBuildTrialsShape(t *testing.T) {
	c := mustCatalog(t)
	trials := NewGenerator(c, 7).BuildTrials()

	if len(trials) != c.Rounds() {
		t.Fatalf("expected %d rounds, got %d", c.Rounds(), len(trials))
	}

	targetsPerOccurrence := map[int]map[string]bool{}
	for i, round := range trials {
		if len(round) != c.ContextSize {
			t.Fatalf("round %d: expected %d objects, got %d", i, c.ContextSize, len(round))
		}
		targets := 0
		names := map[string]bool{}
		for _, st := range round {
			if names[st.Name] {
				t.Fatalf("round %d: duplicate object %q", i, st.Name)
			}
			names[st.Name] = true
			if st.TargetStatus == session.Target {
				targets++
				if targetsPerOccurrence[st.Occurrence] == nil {
					targetsPerOccurrence[st.Occurrence] = map[string]bool{}
				}
				targetsPerOccurrence[st.Occurrence][st.Name] = true
			}
		}
		if targets != 1 {
			t.Fatalf("round %d: expected exactly one target, got %d", i, targets)
		}
	}

	for rep := 1; rep <= c.Repetitions; rep++ {
		if len(targetsPerOccurrence[rep]) != len(c.Objects) {
			t.Fatalf("occurrence %d: expected every object as target once, got %v", rep, targetsPerOccurrence[rep])
		}
	}
}

type recordingPeer struct {
	events []string
	last   any
}

func (p *recordingPeer) Send(string) error { return nil }
func (p *recordingPeer) Emit(event string, payload any) error {
	p.events = append(p.events, event)
	p.last = payload
	return nil
}

func TestNewRoundProgression(t *testing.T) {
	c := mustCatalog(t)
	g := NewGenerator(c, 1)
	s := session.New("g1", g)
	speaker := &recordingPeer{}
	listener := &recordingPeer{}
	s.AddPlayer(&session.Player{UserID: "p1", Role: session.RoleSpeaker, Instance: speaker})
	s.AddPlayer(&session.Player{UserID: "p2", Role: session.RoleListener, Instance: listener})

	if err := s.NewRound(); err != nil {
		t.Fatalf("first round: %v", err)
	}
	if s.RoundNum != 0 || !s.Started {
		t.Fatalf("expected round 0 started, got %d started=%v", s.RoundNum, s.Started)
	}
	if _, err := s.Target(); err != nil {
		t.Fatalf("target: %v", err)
	}
	payload, ok := listener.last.(events.NewRoundPayload)
	if !ok || payload.RoundNum != 1 || payload.Role != session.RoleListener || len(payload.Objects) != c.ContextSize {
		t.Fatalf("unexpected new round payload %#v", listener.last)
	}

	for i := 1; i < c.Rounds(); i++ {
		if err := s.NewRound(); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if s.RoundNum != i {
			t.Fatalf("expected round %d, got %d", i, s.RoundNum)
		}
	}
	if s.Finished {
		t.Fatal("finished before the list was exhausted")
	}

	if err := s.NewRound(); err != nil {
		t.Fatalf("past last round: %v", err)
	}
	if !s.Finished {
		t.Fatal("expected finished after the last round")
	}
	if s.RoundNum != c.Rounds()-1 {
		t.Fatalf("expected round to stay at %d, got %d", c.Rounds()-1, s.RoundNum)
	}
	if got := speaker.events[len(speaker.events)-1]; got != events.Finished {
		t.Fatalf("expected finished event, got %s", got)
	}
	if fin, ok := speaker.last.(events.FinishedPayload); !ok || fin.Rounds != c.Rounds() {
		t.Fatalf("unexpected finished payload %#v", speaker.last)
	}
}
