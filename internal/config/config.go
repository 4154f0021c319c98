package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"pokerbridge/internal/forum"
)

// ErrConfig marks missing or invalid configuration. It is fatal at startup.
var ErrConfig = errors.New("config")

// Config holds everything the bots read from the environment.
type Config struct {
	EngineAddr    string        `env:"POKERBRIDGE_ENGINE_ADDR"    envDefault:"127.0.0.1:1850"`
	EngineRetries uint          `env:"POKERBRIDGE_ENGINE_RETRIES" envDefault:"5"`
	Pacing        time.Duration `env:"POKERBRIDGE_PACING"         envDefault:"2s"`
	JoinWindow    time.Duration `env:"POKERBRIDGE_JOIN_WINDOW"    envDefault:"60s"`

	KeysDir     string `env:"POKERBRIDGE_KEYS_DIR"     envDefault:"keys"`
	SecretsFile string `env:"POKERBRIDGE_SECRETS_FILE" envDefault:"secrets.json"`

	RoomAddr          string        `env:"POKERBRIDGE_ROOM_ADDR"            envDefault:"127.0.0.1:4850"`
	Channel           string        `env:"POKERBRIDGE_CHANNEL"              envDefault:"poker"`
	TableIdentity     string        `env:"POKERBRIDGE_TABLE_ID"             envDefault:"Table"`
	RoomMaxConnsPerIP int           `env:"POKERBRIDGE_ROOM_MAX_CONNS_PER_IP" envDefault:"32"`
	RoomPostLimit     int           `env:"POKERBRIDGE_ROOM_POST_LIMIT"      envDefault:"5"`
	RoomPostWindow    time.Duration `env:"POKERBRIDGE_ROOM_POST_WINDOW"     envDefault:"5s"`
	DevTLS            bool          `env:"POKERBRIDGE_DEVTLS"`

	ForumArea         string        `env:"POKERBRIDGE_FORUM_AREA"          envDefault:"PokerSturm"`
	ForumUserAgent    string        `env:"POKERBRIDGE_FORUM_USER_AGENT"    envDefault:"S4AE.Bot"`
	ForumAuthURL      string        `env:"POKERBRIDGE_FORUM_AUTH_URL"`
	ForumAPIURL       string        `env:"POKERBRIDGE_FORUM_API_URL"`
	ForumPollInterval time.Duration `env:"POKERBRIDGE_FORUM_POLL_INTERVAL" envDefault:"3s"`
	ForumRate         float64       `env:"POKERBRIDGE_FORUM_RATE"          envDefault:"1"`

	MetricsAddr string `env:"POKERBRIDGE_METRICS_ADDR"`
	MetricsFile string `env:"POKERBRIDGE_METRICS_FILE"`
	Debug       bool   `env:"POKERBRIDGE_DEBUG"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads envFile if it exists, then the environment. Variables already
// set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: load %s: %v", ErrConfig, envFile, err)
		}
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	required := []struct{ name, value string }{
		{"POKERBRIDGE_ENGINE_ADDR", c.EngineAddr},
		{"POKERBRIDGE_KEYS_DIR", c.KeysDir},
		{"POKERBRIDGE_ROOM_ADDR", c.RoomAddr},
		{"POKERBRIDGE_CHANNEL", c.Channel},
		{"POKERBRIDGE_TABLE_ID", c.TableIdentity},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s is required", ErrConfig, r.name)
		}
	}
	if c.Pacing < 0 || c.JoinWindow < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrConfig)
	}
	return nil
}

// Secrets is the credentials file. It is kept out of the environment
// because it holds passwords for several accounts.
type Secrets struct {
	Forum map[string]forum.Credentials `json:"forum"`
}

func LoadSecrets(path string) (Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Secrets{}, fmt.Errorf("%w: read secrets: %v", ErrConfig, err)
	}
	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return Secrets{}, fmt.Errorf("%w: parse secrets %s: %v", ErrConfig, path, err)
	}
	return s, nil
}

// ForumCredentials returns identity's forum login.
func (s Secrets) ForumCredentials(identity string) (forum.Credentials, error) {
	c, ok := s.Forum[identity]
	if !ok {
		return forum.Credentials{}, fmt.Errorf("%w: no forum credentials for %s", ErrConfig, identity)
	}
	if !c.Valid() {
		return forum.Credentials{}, fmt.Errorf("%w: incomplete forum credentials for %s", ErrConfig, identity)
	}
	return c, nil
}
