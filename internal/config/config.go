package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileEnvVar points at an optional YAML config file
	FileEnvVar = "COOKIESYNC_CONFIG"

	configDirName = "cookiesync"
)

// Config holds all configuration for the application
type Config struct {
	// Backend API configuration
	API APIConfig

	// Local persistence configuration
	Storage StorageConfig

	// Logging configuration
	Logging LoggingConfig
}

// APIConfig describes the backend and how requests to it are decorated
type APIConfig struct {
	Origin       string            `env:"COOKIESYNC_API_ORIGIN,required"`
	Key          string            `env:"COOKIESYNC_API_KEY"`
	Platform     string            `env:"COOKIESYNC_PLATFORM" envDefault:"web"`
	ExtraHeaders map[string]string `env:"COOKIESYNC_EXTRA_HEADERS"`
	CSRFCookie   string            `env:"COOKIESYNC_CSRF_COOKIE" envDefault:"XSRF-TOKEN"`
	Timeout      time.Duration     `env:"COOKIESYNC_HTTP_TIMEOUT" envDefault:"30s"`
	PrimeWait    time.Duration     `env:"COOKIESYNC_PRIME_WAIT" envDefault:"5s"`
	InsecureTLS  bool              `env:"COOKIESYNC_INSECURE_TLS"`
}

// StorageConfig selects the key-value backend
type StorageConfig struct {
	Backend      string `env:"COOKIESYNC_STORAGE" envDefault:"file"` // file, sqlite, redis, keyring, memory
	Path         string `env:"COOKIESYNC_STORAGE_PATH"`              // file and sqlite backends
	RedisAddress string `env:"COOKIESYNC_REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPrefix  string `env:"COOKIESYNC_REDIS_PREFIX" envDefault:"cookiesync:"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"warn"`
	Format string `env:"LOG_FORMAT" envDefault:"console"` // json, console
}

// Load loads configuration from .env files, the optional YAML file and
// environment variables (highest priority)
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	vars, err := loadFile()
	if err != nil {
		return nil, err
	}

	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			vars[key] = value
		}
	}

	return FromEnvironment(vars)
}

// FromEnvironment parses and validates configuration from a variable set
func FromEnvironment(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Path == "" {
		path, err := defaultStoragePath(cfg.Storage.Backend)
		if err != nil {
			return nil, err
		}
		cfg.Storage.Path = path
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	origin, err := url.Parse(c.API.Origin)
	if err != nil {
		return fmt.Errorf("invalid COOKIESYNC_API_ORIGIN: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return errors.New("COOKIESYNC_API_ORIGIN must be an absolute http(s) URL")
	}
	if origin.Host == "" {
		return errors.New("COOKIESYNC_API_ORIGIN must include a host")
	}
	c.API.Origin = strings.TrimRight(c.API.Origin, "/")

	if c.API.CSRFCookie == "" {
		return errors.New("COOKIESYNC_CSRF_COOKIE cannot be empty")
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "redis", "keyring", "memory":
	default:
		return fmt.Errorf("invalid storage backend '%s', must be one of: file, sqlite, redis, keyring, memory", c.Storage.Backend)
	}

	return nil
}

func defaultStoragePath(backend string) (string, error) {
	var name string
	switch backend {
	case "file":
		name = "store.json"
	case "sqlite":
		name = "store.db"
	default:
		return "", nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, name), nil
}

// FilePath returns the YAML config location: $COOKIESYNC_CONFIG or
// ~/.config/cookiesync/config.yaml
func FilePath() (string, error) {
	if path := os.Getenv(FileEnvVar); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, "config.yaml"), nil
}

// loadFile reads the YAML config file. A missing file yields an empty set.
func loadFile() (map[string]string, error) {
	path, err := FilePath()
	if err != nil {
		return make(map[string]string), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseFile(data)
}

// ParseFile converts a YAML document into environment-style variables.
// Its keys are the environment variable names.
func ParseFile(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	vars := make(map[string]string, len(raw))
	for key, value := range raw {
		vars[key] = flatten(value)
	}
	return vars, nil
}

// flatten renders a YAML value the way caarlos0/env expects it
func flatten(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case map[string]any:
		pairs := make([]string, 0, len(v))
		for key, inner := range v {
			pairs = append(pairs, key+":"+flatten(inner))
		}
		sort.Strings(pairs)
		return strings.Join(pairs, ",")
	case []any:
		items := make([]string, 0, len(v))
		for _, inner := range v {
			items = append(items, flatten(inner))
		}
		return strings.Join(items, ",")
	default:
		return fmt.Sprint(v)
	}
}
