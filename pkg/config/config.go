// Package config loads staffdesk configuration from a TOML file, an optional
// .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// Supported backend providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderDemo   = "demo"
)

// Duration is a time.Duration that reads from TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full staffdesk configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Relay   Relay   `toml:"relay"`
	Backend Backend `toml:"backend"`
	Archive Archive `toml:"archive"`
	Auth    Auth    `toml:"auth"`
	Demo    Demo    `toml:"demo"`
	Client  Client  `toml:"client"`
	Log     Log     `toml:"log"`
}

type Server struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string `toml:"listen"`
}

type Relay struct {
	// MaxDuration is the wall-clock ceiling of one chat exchange.
	MaxDuration Duration `toml:"max_duration"`

	// Model is the fixed model every conversation is sent to.
	Model string `toml:"model"`

	// AllowModelOverride lets clients pick the model per request.
	AllowModelOverride bool `toml:"allow_model_override"`
}

type Backend struct {
	Provider string `toml:"provider"`

	// URL of the upstream provider (e.g., "http://localhost:11434")
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`

	// ConnectTimeout bounds dialing and response headers, not the stream.
	ConnectTimeout Duration `toml:"connect_timeout"`

	Options llm.Options `toml:"options"`
}

type Archive struct {
	Enabled bool `toml:"enabled"`

	// Path is the SQLite database file. Empty or ":memory:" keeps the
	// archive in memory.
	Path string `toml:"path"`
}

type Auth struct {
	// JWTSecret enables HS256 bearer verification on the chat routes.
	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  Duration `toml:"token_ttl"`
}

// Demo gates every piece of canned placeholder data.
type Demo struct {
	Enabled bool `toml:"enabled"`
}

type Client struct {
	// RelayURL is where the chat commands send conversations.
	RelayURL string `toml:"relay_url"`

	// TokenPath is the locally persisted bearer token.
	TokenPath string `toml:"token_path"`
}

type Log struct {
	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{ListenAddr: ":8080"},
		Relay: Relay{
			MaxDuration: Duration{30 * time.Second},
			Model:       "gpt-4o",
		},
		Backend: Backend{
			Provider:       ProviderOpenAI,
			URL:            "https://api.openai.com",
			ConnectTimeout: Duration{10 * time.Second},
		},
		Auth:   Auth{TokenTTL: Duration{12 * time.Hour}},
		Client: Client{RelayURL: "http://localhost:8080"},
	}
}

// Load reads the TOML file at path (if it exists), then .env, then the
// environment, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("could not decode config %s: %w", path, err)
			}
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Relay.MaxDuration.Duration <= 0 {
		return errors.New("relay.max_duration must be positive")
	}
	if strings.TrimSpace(c.Relay.Model) == "" {
		return errors.New("relay.model must not be empty")
	}
	switch c.Backend.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderGemini:
	case ProviderDemo:
		if !c.Demo.Enabled {
			return errors.New("backend.provider \"demo\" requires demo.enabled = true")
		}
	default:
		return fmt.Errorf("unknown backend.provider %q", c.Backend.Provider)
	}
	if c.Backend.Provider != ProviderDemo && c.Backend.Provider != ProviderGemini && c.Backend.URL == "" {
		return errors.New("backend.url must not be empty")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "STAFFDESK_LISTEN")
	setString(&cfg.Relay.Model, "STAFFDESK_MODEL")
	setDuration(&cfg.Relay.MaxDuration, "STAFFDESK_MAX_DURATION")
	setString(&cfg.Backend.Provider, "STAFFDESK_PROVIDER")
	setString(&cfg.Backend.URL, "STAFFDESK_BACKEND_URL")
	setString(&cfg.Backend.APIKey, "STAFFDESK_API_KEY")
	setString(&cfg.Archive.Path, "STAFFDESK_ARCHIVE_PATH")
	setBool(&cfg.Archive.Enabled, "STAFFDESK_ARCHIVE")
	setString(&cfg.Auth.JWTSecret, "STAFFDESK_JWT_SECRET")
	setBool(&cfg.Demo.Enabled, "STAFFDESK_DEMO")
	setString(&cfg.Client.RelayURL, "STAFFDESK_RELAY_URL")
	setString(&cfg.Client.TokenPath, "STAFFDESK_TOKEN_PATH")
	setBool(&cfg.Log.Debug, "STAFFDESK_DEBUG")

	// Provider-native key variables, used when no explicit key is set.
	if cfg.Backend.APIKey == "" {
		switch cfg.Backend.Provider {
		case ProviderOpenAI:
			setString(&cfg.Backend.APIKey, "OPENAI_API_KEY")
		case ProviderGemini:
			setString(&cfg.Backend.APIKey, "GEMINI_API_KEY")
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
