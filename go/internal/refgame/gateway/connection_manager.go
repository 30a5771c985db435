package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/refgame/go/internal/refgame/events"
	"github.com/mcdev12/refgame/go/internal/refgame/message"
	"github.com/mcdev12/refgame/go/internal/refgame/session"
	"github.com/rs/zerolog/log"
)

// Games is the game logic the gateway routes frames into
type Games interface {
	OnMessage(client session.Client, raw string) error
	RelayStroke(client session.Client, payload json.RawMessage)
	StartGame(ctx context.Context, sess *session.Session) error
	EndGame(sess *session.Session) error
}

// ConnectionManager manages WebSocket connections and routes their frames
type ConnectionManager struct {
	upgrader websocket.Upgrader
	config   ConnectionConfig

	games Games
	lobby *Lobby

	mu          sync.RWMutex
	connections map[*Connection]bool
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(config ConnectionConfig, games Games, lobby *Lobby) *ConnectionManager {
	return &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		games:       games,
		lobby:       lobby,
		connections: make(map[*Connection]bool),
	}
}

// HandleWebSocket upgrades the request and puts the player in the lobby.
// The player id comes from the id query parameter, or a fresh uuid.
func (cm *ConnectionManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		userID = uuid.NewString()
	}

	if err := cm.UpgradeConnection(w, r, userID); err != nil {
		// Upgrade has already replied to the client
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		manager:     cm,
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
	}

	cm.register(c)

	// Pair before reading so no frame arrives ahead of the session binding
	if err := cm.lobby.Join(context.Background(), c); err != nil {
		log.Error().Err(err).Str("user_id", c.UserID).Msg("failed to start game")
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[c] = true
}

// disconnect closes c and removes it from the lobby and its session
func (cm *ConnectionManager) disconnect(c *Connection) {
	c.close()

	cm.mu.Lock()
	_, ok := cm.connections[c]
	delete(cm.connections, c)
	cm.mu.Unlock()
	if !ok {
		return
	}

	cm.lobby.Leave(c)

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Dur("duration", time.Since(c.ConnectedAt)).
		Msg("WebSocket connection closed")
}

// route hands one inbound frame to the game logic
func (cm *ConnectionManager) route(c *Connection, data []byte) {
	sess := c.Session()
	if sess == nil {
		log.Debug().Str("user_id", c.UserID).Msg("dropping frame from unpaired connection")
		return
	}
	client := session.Client{UserID: c.UserID, Session: sess}

	if len(data) > 0 && data[0] == '{' {
		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("user_id", c.UserID).Msg("invalid event envelope")
			return
		}
		switch env.Event {
		case events.Stroke:
			cm.games.RelayStroke(client, env.Data)
		default:
			log.Debug().Str("user_id", c.UserID).Str("event", env.Event).Msg("ignoring event")
		}
		return
	}

	err := cm.games.OnMessage(client, string(data))
	switch {
	case err == nil:
	case errors.Is(err, message.ErrMalformed):
		log.Warn().
			Err(err).
			Str("session_id", sess.ID).
			Str("user_id", c.UserID).
			Msg("malformed message")
	default:
		log.Error().
			Err(err).
			Str("session_id", sess.ID).
			Str("user_id", c.UserID).
			Msg("message handling failed, ending session")
		cm.lobby.End(sess)
	}
}

// CloseAll closes every open connection
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	total := len(cm.connections)
	cm.mu.RUnlock()

	return map[string]interface{}{
		"total_connections": total,
		"waiting":           cm.lobby.Waiting(),
		"active_sessions":   len(cm.lobby.Sessions()),
	}
}
