package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"telegram-story-bot/internal/logging"
)

const (
	defaultDatabaseURL = "bolt://tgstorydl.db"
	defaultDownloadDir = "downloads"
	defaultSessionFile = "userbot.session"
	defaultUpdatesURL  = "https://t.me/mybotsrealm"
)

var (
	ErrMissingAPIID    = errors.New("API_ID env var is required")
	ErrMissingAPIHash  = errors.New("API_HASH env var is required")
	ErrMissingBotToken = errors.New("TOKEN env var is required")
)

type Config struct {
	APIID         int
	APIHash       string
	BotToken      string
	Devs          []int64
	StringSession string
	DatabaseURL   string
	DownloadDir   string
	SessionFile   string
	SessionKey    string
	Phone         string
	UpdatesURL    string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Log.Warn().Msg(".env file was not found, relying on environment variables")
		} else {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	rawID := strings.TrimSpace(getenv("API_ID"))
	if rawID == "" {
		return nil, ErrMissingAPIID
	}
	apiID, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse API_ID: %w", err)
	}

	cfg := &Config{
		APIID:         apiID,
		APIHash:       strings.TrimSpace(getenv("API_HASH")),
		BotToken:      strings.TrimSpace(getenv("TOKEN")),
		Devs:          parseIDs(getenv("DEVS")),
		StringSession: strings.TrimSpace(getenv("STRING_SESSION")),
		DatabaseURL:   withDefault(getenv("DATABASE_URL"), defaultDatabaseURL),
		DownloadDir:   withDefault(getenv("DOWNLOAD_DIR"), defaultDownloadDir),
		SessionFile:   withDefault(getenv("SESSION_FILE"), defaultSessionFile),
		SessionKey:    strings.TrimSpace(getenv("SESSION_KEY")),
		Phone:         strings.TrimSpace(getenv("PHONE")),
		UpdatesURL:    withDefault(getenv("UPDATES_URL"), defaultUpdatesURL),
	}
	if cfg.APIHash == "" {
		return nil, ErrMissingAPIHash
	}
	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	if len(cfg.Devs) == 0 {
		logging.Log.Warn().Msg("DEVS not set, /status is disabled")
	}
	return cfg, nil
}

func withDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, p := range strings.Split(raw, ",") {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			logging.Log.Warn().Str("user_id", s).Msg("invalid user id in DEVS")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
