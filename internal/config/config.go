package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Remote backend names.
const (
	RemoteNone     = ""
	RemoteRedis    = "redis"
	RemotePostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	// UserID scopes every gateway operation. Required for any persisted read or write.
	UserID string `json:"user_id,omitempty"`

	// AutosaveDelayMs is the debounce delay between the last edit and the write.
	AutosaveDelayMs int `json:"autosave_delay_ms"`

	// GenerationTimeoutSec bounds every generation-service call.
	GenerationTimeoutSec int `json:"generation_timeout_sec"`

	// GenerationBaseURL is an OpenAI-compatible endpoint (".../v1").
	GenerationBaseURL string `json:"generation_base_url,omitempty"`

	// GenerationModel is the model name sent with every request.
	GenerationModel string `json:"generation_model,omitempty"`

	// GenerationAPIKeyEnv names the environment variable holding the API key.
	// The key itself is never written to config files.
	GenerationAPIKeyEnv string `json:"generation_api_key_env,omitempty"`

	// GenerationMaxAttempts is the retry budget for 429/5xx responses within one call.
	GenerationMaxAttempts int `json:"generation_max_attempts,omitempty"`

	// LocalMaxBytes caps the total payload bytes kept in the local cache per user.
	LocalMaxBytes int64 `json:"local_max_bytes"`

	// RemoteBackend selects the remote durable store: "", "redis" or "postgres".
	// Empty means local-only.
	RemoteBackend string `json:"remote_backend,omitempty"`

	// RedisURL is used when RemoteBackend is "redis".
	RedisURL string `json:"redis_url,omitempty"`

	// PostgresURL is used when RemoteBackend is "postgres".
	PostgresURL string `json:"postgres_url,omitempty"`

	// ConnectivityIntervalSec is the period of the background remote health check.
	ConnectivityIntervalSec int `json:"connectivity_interval_sec,omitempty"`

	// LogFile enables JSON file logging with rotation when non-empty.
	LogFile string `json:"log_file,omitempty"`

	// LogDevelopment switches the console encoder to human-readable output.
	LogDevelopment bool `json:"log_development,omitempty"`

	// DBMaxOpenConns limits the maximum number of open local database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle local database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// TemplatesDir holds additional *.yaml template catalogs merged over the built-in one.
	TemplatesDir string `json:"templates_dir,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AutosaveDelayMs:         500,
		GenerationTimeoutSec:    60,
		GenerationAPIKeyEnv:     "INKWELL_API_KEY",
		GenerationMaxAttempts:   3,
		LocalMaxBytes:           5 << 20,
		ConnectivityIntervalSec: 30,
	}
}

// AutosaveDelay returns the debounce delay as a duration.
func (c *Config) AutosaveDelay() time.Duration {
	return time.Duration(c.AutosaveDelayMs) * time.Millisecond
}

// GenerationTimeout returns the per-call generation timeout.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

// ConnectivityInterval returns the remote health-check period.
func (c *Config) ConnectivityInterval() time.Duration {
	return time.Duration(c.ConnectivityIntervalSec) * time.Second
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.RemoteBackend {
	case RemoteNone:
	case RemoteRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("remote_backend redis requires redis_url")
		}
	case RemotePostgres:
		if strings.TrimSpace(c.PostgresURL) == "" {
			return errors.New("remote_backend postgres requires postgres_url")
		}
	default:
		return errors.New("remote_backend must be one of: \"\", redis, postgres")
	}
	if c.AutosaveDelayMs < 0 {
		return errors.New("autosave_delay_ms must not be negative")
	}
	if c.LocalMaxBytes < 0 {
		return errors.New("local_max_bytes must not be negative")
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.inkwell.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.inkwell) and repo (.inkwell) directories.
// Repo config is found by walking upward from startDir to find the nearest .inkwell/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .inkwell/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".inkwell", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.UserID = firstString(overlay.UserID, base.UserID)
	result.GenerationBaseURL = firstString(overlay.GenerationBaseURL, base.GenerationBaseURL)
	result.GenerationModel = firstString(overlay.GenerationModel, base.GenerationModel)
	result.GenerationAPIKeyEnv = firstString(overlay.GenerationAPIKeyEnv, base.GenerationAPIKeyEnv)
	result.RemoteBackend = firstString(overlay.RemoteBackend, base.RemoteBackend)
	result.RedisURL = firstString(overlay.RedisURL, base.RedisURL)
	result.PostgresURL = firstString(overlay.PostgresURL, base.PostgresURL)
	result.LogFile = firstString(overlay.LogFile, base.LogFile)
	result.TemplatesDir = firstString(overlay.TemplatesDir, base.TemplatesDir)

	result.AutosaveDelayMs = firstInt(overlay.AutosaveDelayMs, base.AutosaveDelayMs)
	result.GenerationTimeoutSec = firstInt(overlay.GenerationTimeoutSec, base.GenerationTimeoutSec)
	result.GenerationMaxAttempts = firstInt(overlay.GenerationMaxAttempts, base.GenerationMaxAttempts)
	result.ConnectivityIntervalSec = firstInt(overlay.ConnectivityIntervalSec, base.ConnectivityIntervalSec)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.LocalMaxBytes = overlay.LocalMaxBytes
	if result.LocalMaxBytes == 0 {
		result.LocalMaxBytes = base.LocalMaxBytes
	}

	// Booleans: overlay wins if true, else base
	result.LogDevelopment = base.LogDevelopment || overlay.LogDevelopment

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
