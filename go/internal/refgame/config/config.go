package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/refgame/go/internal/refgame/datalog"
	"github.com/mcdev12/refgame/go/internal/refgame/dispatcher"
	"github.com/rs/zerolog"
)

// Config is the runtime configuration of the game server
type Config struct {
	Port        string
	DataDir     string
	StimuliFile string
	// Seed for trial shuffling; 0 seeds from the clock
	Seed     int64
	LogLevel zerolog.Level

	Dispatcher dispatcher.Config

	DatabaseEnabled bool
	Database        DatabaseConfig

	// JetStream.URL empty disables the NATS mirror
	JetStream datalog.JetStreamConfig
}

// FromEnv reads the REFGAME_*, DB_*, NATS_* and LOG_LEVEL variables
func FromEnv() Config {
	dispatch := dispatcher.DefaultConfig()
	dispatch.RoundAdvanceDelay = getEnvAsDuration("REFGAME_ROUND_ADVANCE_DELAY", dispatch.RoundAdvanceDelay)
	dispatch.UnescapeAllInLog = getEnvAsBool("REFGAME_LOG_UNESCAPE_ALL", dispatch.UnescapeAllInLog)

	js := datalog.DefaultJetStreamConfig()
	js.URL = os.Getenv("NATS_URL")
	js.StreamName = getEnv("NATS_STREAM", js.StreamName)
	js.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", js.SubjectPrefix)

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	return Config{
		Port:            getEnv("REFGAME_PORT", "8080"),
		DataDir:         getEnv("REFGAME_DATA_DIR", "data"),
		StimuliFile:     getEnv("REFGAME_STIMULI_FILE", "go/internal/assets/stimuli.yaml"),
		Seed:            int64(getEnvAsInt("REFGAME_SEED", 0)),
		LogLevel:        level,
		Dispatcher:      dispatch,
		DatabaseEnabled: getEnvAsBool("REFGAME_DATABASE_ENABLED", false),
		Database:        databaseFromEnv(),
		JetStream:       js,
	}
}

// DatabaseConfig holds the Postgres settings of the log mirror
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "refgame"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Redacted is DSN with the password masked, for logs
func (c DatabaseConfig) Redacted() string {
	u, err := url.Parse(c.DSN())
	if err != nil {
		return ""
	}
	return u.Redacted()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("3s") or bare milliseconds ("3000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
