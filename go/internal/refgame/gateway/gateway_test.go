package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/refgame/go/internal/refgame/datalog"
	"github.com/mcdev12/refgame/go/internal/refgame/dispatcher"
	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/trials"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const testCatalog = `
repetitions: 1
context_size: 2
objects:
  - name: red-circle
    color: "#d62728"
  - name: blue-square
    color: "#1f77b4"
`

type testGateway struct {
	svc     *Service
	server  *httptest.Server
	dataDir string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	return newTestGatewayWith(t, nil)
}

// newTestGatewayWith uses est for data streams, or CSV files under a temp dir when nil
func newTestGatewayWith(t *testing.T, est dispatcher.Establisher) *testGateway {
	t.Helper()

	catalog, err := trials.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	dataDir := t.TempDir()
	if est == nil {
		est = datalog.NewEstablisher(dataDir)
	}
	d := dispatcher.New(est, clockwork.NewFakeClock(), dispatcher.DefaultConfig())
	svc := NewService(DefaultConfig(), d, trials.NewGenerator(catalog, 1))

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		svc.Stop()
		server.Close()
	})
	return &testGateway{svc: svc, server: server, dataDir: dataDir}
}

func (g *testGateway) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return string(data)
}

func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	frame := readFrame(t, conn)
	var env events.Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		t.Fatalf("expected envelope, got %q", frame)
	}
	if env.Event != want {
		t.Fatalf("expected event %q, got %q (%s)", want, env.Event, frame)
	}
	return env.Data
}

func write(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %q: %v", frame, err)
	}
}

// pair connects a speaker and a listener and consumes their pairing frames
func (g *testGateway) pair(t *testing.T) (speaker, listener *websocket.Conn, sessionID, target string) {
	t.Helper()

	speaker = g.dial(t, "alice")
	readEvent(t, speaker, events.Waiting)

	listener = g.dial(t, "bob")

	var role events.RoleAssignedPayload
	json.Unmarshal(readEvent(t, speaker, events.RoleAssigned), &role)
	if role.Role != "speaker" || role.SessionID == "" {
		t.Fatalf("unexpected speaker assignment %+v", role)
	}
	sessionID = role.SessionID

	json.Unmarshal(readEvent(t, listener, events.RoleAssigned), &role)
	if role.Role != "listener" || role.SessionID != sessionID {
		t.Fatalf("unexpected listener assignment %+v", role)
	}

	var round events.NewRoundPayload
	json.Unmarshal(readEvent(t, speaker, events.NewRound), &round)
	if round.RoundNum != 1 || len(round.Objects) != 2 {
		t.Fatalf("unexpected first round %+v", round)
	}
	for _, o := range round.Objects {
		if o.TargetStatus == "target" {
			target = o.Name
		}
	}
	if target == "" {
		t.Fatal("first round has no target")
	}
	readEvent(t, listener, events.NewRound)
	return speaker, listener, sessionID, target
}

func TestPairingClickAndChat(t *testing.T) {
	g := newTestGateway(t)
	speaker, listener, _, target := g.pair(t)

	write(t, listener, "clickedObj."+target+".box1")
	want := events.FeedbackPrefix + target
	if got := readFrame(t, speaker); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := readFrame(t, listener); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	write(t, speaker, "chatMessage.hi~~~there.1200")
	for _, conn := range []*websocket.Conn{speaker, listener} {
		var chat events.ChatMessagePayload
		json.Unmarshal(readEvent(t, conn, events.ChatMessage), &chat)
		if chat.User != "alice" || chat.Msg != "hi.there" {
			t.Fatalf("unexpected chat %+v", chat)
		}
	}

	files, err := filepath.Glob(filepath.Join(g.dataDir, datalog.TypeClickedObj, "*.csv"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one click file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read click file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[1], ","+target+","+target+",box1,1") {
		t.Fatalf("unexpected click file %q", data)
	}
}

func TestStrokeRelayedToPartner(t *testing.T) {
	g := newTestGateway(t)
	speaker, listener, _, _ := g.pair(t)

	write(t, speaker, `{"event":"stroke","data":{"points":[[1,2],[3,4]]}}`)

	data := readEvent(t, listener, events.Stroke)
	if string(data) != `{"points":[[1,2],[3,4]]}` {
		t.Fatalf("stroke not relayed verbatim: %s", data)
	}
}

func TestPartnerLeftEndsSession(t *testing.T) {
	g := newTestGateway(t)
	speaker, listener, sessionID, _ := g.pair(t)

	listener.Close()

	var left events.PartnerLeftPayload
	json.Unmarshal(readEvent(t, speaker, events.PartnerLeft), &left)
	if left.User != "bob" {
		t.Fatalf("expected bob to leave, got %+v", left)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := g.svc.lobby.Session(sessionID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session still registered after partner left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPauseGatesChat(t *testing.T) {
	g := newTestGateway(t)
	speaker, listener, sessionID, _ := g.pair(t)

	resp, err := http.Post(g.server.URL+"/api/sessions/"+sessionID+"/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(g.server.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	var list SessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	resp.Body.Close()
	if len(list.Sessions) != 1 || !list.Sessions[0].Paused || len(list.Sessions[0].Players) != 2 {
		t.Fatalf("unexpected sessions listing %+v", list)
	}

	// Dropped while paused; the typing event after it must arrive first
	write(t, speaker, "chatMessage.muted.100")
	write(t, speaker, "playerTyping.true")

	var typing events.PlayerTypingPayload
	json.Unmarshal(readEvent(t, listener, events.PlayerTyping), &typing)
	if typing.Typing != "true" {
		t.Fatalf("unexpected typing %+v", typing)
	}
}

func TestPauseUnknownSession(t *testing.T) {
	g := newTestGateway(t)

	resp, err := http.Post(g.server.URL+"/api/sessions/nope/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

type stubCheck struct {
	name string
	err  error
}

func (c stubCheck) Name() string                { return c.name }
func (c stubCheck) Check(context.Context) error { return c.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthCheck
		want   int
	}{
		{"no mirrors", nil, http.StatusOK},
		{"mirror up", []HealthCheck{stubCheck{name: "postgres"}}, http.StatusOK},
		{"mirror down", []HealthCheck{stubCheck{name: "postgres"}, stubCheck{name: "nats", err: errors.New("NATS disconnected")}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t)
			for _, c := range tt.checks {
				g.svc.AddHealthCheck(c)
			}

			resp, err := http.Get(g.server.URL + "/health")
			if err != nil {
				t.Fatalf("health: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}

			var status HealthStatus
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				t.Fatalf("decode health: %v", err)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Fatalf("expected %d checks, got %v", len(tt.checks), status.Checks)
			}
			if status.Checks["nats"] != "" && status.Checks["nats"] != "NATS disconnected" {
				t.Fatalf("unexpected nats check %q", status.Checks["nats"])
			}
		})
	}
}

func TestConnectPauseAndResume(t *testing.T) {
	g := newTestGateway(t)
	_, _, sessionID, _ := g.pair(t)
	ctx := context.Background()

	pause := connect.NewClient[wrapperspb.StringValue, emptypb.Empty](http.DefaultClient, g.server.URL+PauseSessionProcedure)
	resume := connect.NewClient[wrapperspb.StringValue, emptypb.Empty](http.DefaultClient, g.server.URL+ResumeSessionProcedure)

	paused := func() bool {
		sess, ok := g.svc.lobby.Session(sessionID)
		if !ok {
			t.Fatal("session not registered")
		}
		sess.Mu.Lock()
		defer sess.Mu.Unlock()
		return sess.Paused
	}

	if _, err := pause.CallUnary(ctx, connect.NewRequest(wrapperspb.String(sessionID))); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !paused() {
		t.Fatal("expected session paused")
	}

	if _, err := resume.CallUnary(ctx, connect.NewRequest(wrapperspb.String(sessionID))); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if paused() {
		t.Fatal("expected session resumed")
	}

	_, err := pause.CallUnary(ctx, connect.NewRequest(wrapperspb.String("nope")))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	_, err = pause.CallUnary(ctx, connect.NewRequest(wrapperspb.String("")))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

type failingEstablisher struct{}

func (failingEstablisher) Establish(context.Context, string, string, string, string) (datalog.Stream, error) {
	return nil, errors.New("read-only file system")
}

// waitClosed reads until the server drops conn
func waitClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("connection still open")
			}
			return
		}
	}
}

func TestStartGameFailureDropsBothPlayers(t *testing.T) {
	g := newTestGatewayWith(t, failingEstablisher{})

	alice := g.dial(t, "alice")
	readEvent(t, alice, events.Waiting)
	bob := g.dial(t, "bob")

	waitClosed(t, alice)
	waitClosed(t, bob)

	if n := len(g.svc.lobby.Sessions()); n != 0 {
		t.Fatalf("expected no registered sessions, got %d", n)
	}
}

type stubCounter struct{ n uint64 }

func (c stubCounter) Name() string  { return "mirror_failures" }
func (c stubCounter) Count() uint64 { return c.n }

func TestHealthReportsCountersWithoutFailing(t *testing.T) {
	g := newTestGateway(t)
	g.svc.AddCounter(stubCounter{n: 3})

	resp, err := http.Get(g.server.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !status.Healthy || status.Counters["mirror_failures"] != 3 {
		t.Fatalf("unexpected health %+v", status)
	}
}

func TestStartReturnsAfterSessionsEnd(t *testing.T) {
	g := newTestGateway(t)
	_, _, sessionID, _ := g.pair(t)
	sess, ok := g.svc.lobby.Session(sessionID)
	if !ok {
		t.Fatal("session not registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.svc.Start(ctx); err != nil {
			t.Errorf("start: %v", err)
		}
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	sess.Mu.Lock()
	ended := sess.Ended()
	sess.Mu.Unlock()
	if !ended {
		t.Fatal("expected session ended once Start returned")
	}
}
