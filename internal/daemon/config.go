package daemon

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nous-labs/vacancy-bridge/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g.
// VB_LLM_PRIMARY_API_KEY for llm.primary.api_key.
const EnvPrefix = "VB"

// Config holds the bridge configuration.
type Config struct {
	// Identity
	Name string `mapstructure:"name"` // "vacancy-bridge"

	// Operator HTTP surface
	HTTPAddr string `mapstructure:"http_addr"`

	// Transport selects the chat network: "whatsapp" or "matrix".
	Transport string `mapstructure:"transport"`

	// CredentialsDir holds all transport credential state.
	CredentialsDir string `mapstructure:"credentials_dir"`

	Matrix    MatrixConfig    `mapstructure:"matrix"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Vacancies VacanciesConfig `mapstructure:"vacancies"`
	Store     StoreConfig     `mapstructure:"store"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	Homeserver   string   `mapstructure:"homeserver"`    // e.g., http://synapse:8008
	UserID       string   `mapstructure:"user_id"`       // localpart, e.g. "vacantes"
	Password     string   `mapstructure:"password"`      // bot password
	ServerName   string   `mapstructure:"server_name"`   // e.g., matrix.example.com
	AllowedUsers []string `mapstructure:"allowed_users"` // empty = everyone
}

// LLMConfig holds the AI collaborator settings. Fallback is optional.
type LLMConfig struct {
	Primary     ProviderConfig `mapstructure:"primary"`
	Fallback    ProviderConfig `mapstructure:"fallback"`
	MaxTokens   int            `mapstructure:"max_tokens"`
	Temperature float64        `mapstructure:"temperature"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Provider string `mapstructure:"provider"` // "deepseek", "openai", "anthropic"
	Model    string `mapstructure:"model"`    // e.g., "deepseek-chat"
	APIKey   string `mapstructure:"api_key"`  // can use env var reference: "$DEEPSEEK_API_KEY"
	BaseURL  string `mapstructure:"base_url"` // optional override
}

// VacanciesConfig holds the vacancy data source settings.
type VacanciesConfig struct {
	URL          string        `mapstructure:"url"`
	UserAgent    string        `mapstructure:"user_agent"`
	TTL          time.Duration `mapstructure:"ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// StoreConfig holds conversation store settings.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, memory
	DSN             string        `mapstructure:"dsn"`    // file path or postgres URL
	MaxHistory      int           `mapstructure:"max_history"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// PromptConfig points at an optional YAML prompt profile.
type PromptConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // text, json
	AddSource bool   `mapstructure:"add_source"`
}

// NewViper returns a viper instance with every key defaulted and
// environment overrides enabled. Keys must have a default to be
// overridable from the environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", "vacancy-bridge")
	v.SetDefault("http_addr", envOr("PORT_ADDR", ":3000"))
	v.SetDefault("transport", "whatsapp")
	v.SetDefault("credentials_dir", envOr("VB_DATA_DIR", "./data")+"/auth")

	v.SetDefault("matrix.homeserver", envOr("MATRIX_HOMESERVER", "http://synapse:8008"))
	v.SetDefault("matrix.user_id", envOr("MATRIX_BOT_USER", "vacantes"))
	v.SetDefault("matrix.password", "$MATRIX_BOT_PASSWORD")
	v.SetDefault("matrix.server_name", envOr("MATRIX_SERVER_NAME", "matrix.example.com"))
	v.SetDefault("matrix.allowed_users", []string{})

	v.SetDefault("llm.primary.provider", "deepseek")
	v.SetDefault("llm.primary.model", "deepseek-chat")
	v.SetDefault("llm.primary.api_key", "$DEEPSEEK_API_KEY")
	v.SetDefault("llm.primary.base_url", "")
	v.SetDefault("llm.fallback.provider", "")
	v.SetDefault("llm.fallback.model", "")
	v.SetDefault("llm.fallback.api_key", "")
	v.SetDefault("llm.fallback.base_url", "")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.temperature", 0.5)

	v.SetDefault("vacancies.url", "https://gabylimp.aloia.dev/api/vacantes")
	v.SetDefault("vacancies.user_agent", "GabyLimp-WhatsApp-Bot/1.0")
	v.SetDefault("vacancies.ttl", 5*time.Minute)
	v.SetDefault("vacancies.fetch_timeout", 10*time.Second)

	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.dsn", envOr("VB_DATA_DIR", "./data")+"/bridge.db")
	v.SetDefault("store.max_history", 10)
	v.SetDefault("store.idle_ttl", 30*time.Minute)
	v.SetDefault("store.cleanup_interval", 5*time.Minute)

	v.SetDefault("prompt.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	return v
}

// LoadConfig reads config from an optional file, environment and defaults.
// If path is empty, only defaults and environment are used.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Resolve env var references in all $-prefixed values
	cfg.CredentialsDir = resolveEnv(cfg.CredentialsDir)
	cfg.Matrix.Homeserver = resolveEnv(cfg.Matrix.Homeserver)
	cfg.Matrix.Password = resolveEnv(cfg.Matrix.Password)
	cfg.LLM.Primary.APIKey = resolveEnv(cfg.LLM.Primary.APIKey)
	cfg.LLM.Fallback.APIKey = resolveEnv(cfg.LLM.Fallback.APIKey)
	cfg.Vacancies.URL = resolveEnv(cfg.Vacancies.URL)
	cfg.Store.DSN = resolveEnv(cfg.Store.DSN)

	return &cfg, nil
}

// Validate checks the settings the bridge cannot run without.
func (c *Config) Validate() error {
	switch c.Transport {
	case "whatsapp", "matrix":
	default:
		return fmt.Errorf("unknown transport %q (want whatsapp or matrix)", c.Transport)
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres, store.DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if err := validateProvider("llm.primary", c.LLM.Primary); err != nil {
		return err
	}
	if c.LLM.Fallback.Provider != "" {
		if err := validateProvider("llm.fallback", c.LLM.Fallback); err != nil {
			return err
		}
	}
	if c.CredentialsDir == "" {
		return fmt.Errorf("credentials_dir is required")
	}
	if c.Transport == "matrix" && (c.Matrix.Homeserver == "" || c.Matrix.UserID == "") {
		return fmt.Errorf("matrix.homeserver and matrix.user_id are required")
	}
	return nil
}

func validateProvider(key string, p ProviderConfig) error {
	switch p.Provider {
	case "deepseek", "openai", "anthropic":
	default:
		return fmt.Errorf("%s.provider: unknown provider %q", key, p.Provider)
	}
	// An unresolved "$NAME" reference means the variable is not set.
	if p.APIKey == "" || strings.HasPrefix(p.APIKey, "$") {
		return fmt.Errorf("%s.api_key is not configured", key)
	}
	return nil
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
