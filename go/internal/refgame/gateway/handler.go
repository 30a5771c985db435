package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// PlayerSummary describes one player in a session listing
type PlayerSummary struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Visible string `json:"visible,omitempty"`
}

// SessionSummary describes one running session
type SessionSummary struct {
	ID       string          `json:"id"`
	Round    int             `json:"round"`
	Started  bool            `json:"started"`
	Paused   bool            `json:"paused"`
	Finished bool            `json:"finished"`
	Players  []PlayerSummary `json:"players"`
}

// SessionsResponse is the body of GET /api/sessions
type SessionsResponse struct {
	TotalConnections int              `json:"total_connections"`
	Waiting          int              `json:"waiting"`
	Sessions         []SessionSummary `json:"sessions"`
}

// Handler wraps the router with CORS and cleartext HTTP/2
func (s *Service) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		ExposedHeaders: []string{"Connect-Protocol-Version", "Grpc-Status", "Grpc-Message"},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(s.Router()), &http2.Server{})
}

// Router registers the gateway routes
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.manager.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/pause", s.handleSetPaused(true)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/resume", s.handleSetPaused(false)).Methods(http.MethodPost)

	s.registerAdminHandlers(r)
	return r
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.GetConnectionStats()
	resp := SessionsResponse{
		TotalConnections: stats["total_connections"].(int),
		Waiting:          stats["waiting"].(int),
		Sessions:         []SessionSummary{},
	}

	for _, sess := range s.lobby.Sessions() {
		sess.Mu.Lock()
		summary := SessionSummary{
			ID:       sess.ID,
			Round:    sess.RoundNum + 1,
			Started:  sess.Started,
			Paused:   sess.Paused,
			Finished: sess.Finished,
		}
		for _, p := range sess.ActivePlayers() {
			summary.Players = append(summary.Players, PlayerSummary{UserID: p.UserID, Role: p.Role, Visible: p.Visible})
		}
		sess.Mu.Unlock()
		resp.Sessions = append(resp.Sessions, summary)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleSetPaused(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.SetPaused(id, paused); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "paused": paused})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
