package gateway

import (
	"context"

	"github.com/mcdev12/refgame/go/internal/refgame/session"
	"github.com/rs/zerolog/log"
)

// Service is the game gateway: it accepts WebSocket players, pairs them and
// hands their frames to the game logic.
type Service struct {
	manager  *ConnectionManager
	lobby    *Lobby
	checks   []HealthCheck
	counters []HealthCounter
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a gateway whose sessions draw rounds from rounds
func NewService(config Config, games Games, rounds session.RoundSource) *Service {
	lobby := NewLobby(games, rounds)
	return &Service{
		manager: NewConnectionManager(config.ConnectionConfig, games, lobby),
		lobby:   lobby,
	}
}

// Start blocks until ctx is cancelled, then ends every session and closes
// every connection
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting game gateway service")

	<-ctx.Done()

	log.Info().Msg("game gateway service shutting down")
	return s.Stop()
}

// Stop ends all sessions and drops all connections
func (s *Service) Stop() error {
	s.lobby.EndAll()
	s.manager.CloseAll()
	log.Info().Msg("game gateway service stopped")
	return nil
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.manager.GetConnectionStats()
	stats["service"] = "refgame_gateway"
	return stats
}
