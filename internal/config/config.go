// Package config loads server configuration from the environment. A .env
// file in the working directory is honored when present; VOXIDESK_* process
// environment variables always win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Provider ProviderConfig
	Auth     AuthConfig
	LogLevel string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// ProviderConfig points at the OpenAI-compatible backend serving chat,
// embeddings, and speech synthesis.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	EmbedModel  string
	SpeechModel string
}

type AuthConfig struct {
	// Token guards the HTTP API. Empty disables auth (local development).
	Token string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Provider: ProviderConfig{
			BaseURL:     "https://api.openai.com/v1",
			ChatModel:   "gpt-4o-mini",
			EmbedModel:  "text-embedding-3-small",
			SpeechModel: "tts-1",
		},
		LogLevel: "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voxidesk"
	}
	return filepath.Join(home, ".voxidesk")
}

// Load reads a .env file if one exists, then applies VOXIDESK_* overrides
// on top of the defaults.
func Load() (Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	cfg := defaults()

	cfg.Server.Port = envInt("VOXIDESK_PORT", cfg.Server.Port)
	cfg.Storage.DataDir = envStr("VOXIDESK_DATA_DIR", cfg.Storage.DataDir)
	cfg.Provider.BaseURL = envStr("VOXIDESK_PROVIDER_BASE_URL", cfg.Provider.BaseURL)
	cfg.Provider.APIKey = envStr("VOXIDESK_PROVIDER_API_KEY", cfg.Provider.APIKey)
	cfg.Provider.ChatModel = envStr("VOXIDESK_CHAT_MODEL", cfg.Provider.ChatModel)
	cfg.Provider.EmbedModel = envStr("VOXIDESK_EMBED_MODEL", cfg.Provider.EmbedModel)
	cfg.Provider.SpeechModel = envStr("VOXIDESK_SPEECH_MODEL", cfg.Provider.SpeechModel)
	cfg.Auth.Token = envStr("VOXIDESK_AUTH_TOKEN", cfg.Auth.Token)
	cfg.LogLevel = envStr("VOXIDESK_LOG_LEVEL", cfg.LogLevel)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	return cfg, nil
}

// DatabasePath returns the SQLite file location under the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "voxidesk.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
