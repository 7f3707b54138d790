package config

import (
	"errors"
	"os"
	"strings"
)

// AppConfig is the process configuration, loaded once at startup from the
// environment.
type AppConfig struct {
	// Chat bridge endpoints.
	BridgeBaseURL string
	BridgeWSURL   string

	// Command prefix, e.g. "!".
	BotPrefix string

	// Stats store; required.
	RedisURL string

	// Optional postgres archive of finished games. Empty disables archival.
	DatabaseURL string

	// Optional room allow-list; empty means all rooms.
	AllowedRooms []string

	// Optional directory of message-catalog override files.
	MessageDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BotPrefix: "!",
	}

	cfg.BridgeBaseURL = strings.TrimSpace(os.Getenv("BRIDGE_BASE_URL"))
	cfg.BridgeWSURL = strings.TrimSpace(os.Getenv("BRIDGE_WS_URL"))
	if v := strings.TrimSpace(os.Getenv("BOT_PREFIX")); v != "" {
		cfg.BotPrefix = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ROOMS")); v != "" {
		for _, room := range strings.Split(v, ",") {
			if room = strings.TrimSpace(room); room != "" {
				cfg.AllowedRooms = append(cfg.AllowedRooms, room)
			}
		}
	}

	if cfg.BridgeBaseURL == "" {
		return nil, errors.New("BRIDGE_BASE_URL is required")
	}
	if cfg.BridgeWSURL == "" {
		return nil, errors.New("BRIDGE_WS_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}
