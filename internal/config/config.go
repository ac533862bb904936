package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string

	// Guild wiring
	EventChannelID     string // channel where event announcements are posted
	EventManagerRoleID string // role allowed to manage other users' events

	// Database
	DatabasePath string

	// Scheduler
	SchedulerIntervalSeconds int

	// Defaults
	DefaultTimezone string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		EventChannelID:       os.Getenv("EVENT_CHANNEL_ID"),
		EventManagerRoleID:   os.Getenv("EVENT_MANAGER_ROLE_ID"),
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "./data/cappuccino.db"),
		DefaultTimezone:      getEnvOrDefault("DEFAULT_TIMEZONE", "ET"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Parse scheduler tick interval
	intervalStr := getEnvOrDefault("SCHEDULER_INTERVAL_SECONDS", "15")
	interval, err := strconv.Atoi(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_INTERVAL_SECONDS: %w", err)
	}
	cfg.SchedulerIntervalSeconds = interval

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.EventChannelID == "" {
		return nil, fmt.Errorf("EVENT_CHANNEL_ID is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
