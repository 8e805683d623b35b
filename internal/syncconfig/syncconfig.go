// Package syncconfig holds the per-user sync settings and credentials stored
// under ~/.config/punch. Every getter resolves env > file > default.
package syncconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Defaults applied when neither env nor config.json set a value.
const (
	DefaultServerURL   = "http://localhost:8080"
	DefaultInterval    = 30 * time.Second
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultProbeEvery  = 15 * time.Second
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	OnPunch  *bool  `json:"on_punch,omitempty"` // nil = default true
	Interval string `json:"interval,omitempty"` // duration string, default "30s"
	Probe    string `json:"probe,omitempty"`    // duration string, default "15s"
}

// RetryConfig holds queue retry settings.
type RetryConfig struct {
	BaseDelay   string `json:"base_delay,omitempty"` // default "1s"
	MaxDelay    string `json:"max_delay,omitempty"`  // default "30s"
	MaxAttempts *int   `json:"max_attempts,omitempty"`
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL   string         `json:"url"`
	Auto  AutoSyncConfig `json:"auto"`
	Retry RetryConfig    `json:"retry"`
}

// Config is the global punch config stored at ~/.config/punch/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores gateway credentials at ~/.config/punch/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

const (
	configFile = "config.json"
	authFile   = "auth.json"
)

// ConfigDir returns ~/.config/punch, creating it if necessary.
// PUNCH_CONFIG_DIR overrides the location.
func ConfigDir() (string, error) {
	dir := os.Getenv("PUNCH_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "punch")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// readFile decodes name from the config dir into v. found is false when the
// file does not exist.
func readFile(name string, v any) (found bool, err error) {
	dir, err := ConfigDir()
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}

func writeFile(name string, v any, perm os.FileMode) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, perm)
}

// LoadConfig reads config.json; a missing file yields the zero config
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if _, err := readFile(configFile, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	return writeFile(configFile, cfg, 0644)
}

// LoadAuth reads auth.json. It returns nil, nil when the file does not exist.
func LoadAuth() (*AuthCredentials, error) {
	creds := &AuthCredentials{}
	found, err := readFile(authFile, creds)
	if err != nil || !found {
		return nil, err
	}
	return creds, nil
}

// SaveAuth writes auth.json readable by the owner only
func SaveAuth(creds *AuthCredentials) error {
	return writeFile(authFile, creds, 0600)
}

// ClearAuth removes auth.json
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, authFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetServerURL returns the gateway URL without a trailing slash.
// Priority: PUNCH_SYNC_URL env > config.json sync.url > auth.json > default.
func GetServerURL() string {
	candidates := []string{
		os.Getenv("PUNCH_SYNC_URL"),
		fromConfig(func(c *Config) string { return c.Sync.URL }),
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		candidates = append(candidates, creds.ServerURL)
	}
	for _, u := range candidates {
		if u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return DefaultServerURL
}

// GetAPIKey returns PUNCH_API_KEY, else the key in auth.json
func GetAPIKey() string {
	if v := os.Getenv("PUNCH_API_KEY"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetDeviceID returns the device ID, generating and persisting one on first
// use so every run from this machine reports the same id.
// Priority: PUNCH_DEVICE_ID env > auth.json > new.
func GetDeviceID() (string, error) {
	if v := os.Getenv("PUNCH_DEVICE_ID"); v != "" {
		return v, nil
	}
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}

// GenerateDeviceID returns a fresh random device id, 32 hex chars
func GenerateDeviceID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// fromConfig applies get to the loaded config, yielding the zero value when
// the file cannot be read
func fromConfig[T any](get func(*Config) T) T {
	cfg, err := LoadConfig()
	if err != nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// boolSetting resolves env ("1"/"true"/"0"/"false"), then the config value,
// then def
func boolSetting(envKey string, get func(*Config) *bool, def bool) bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	if v := fromConfig(get); v != nil {
		return *v
	}
	return def
}

// durationSetting resolves env, then the config value, then def.
// Unparseable or non-positive values fall through.
func durationSetting(envKey string, get func(*Config) string, def time.Duration) time.Duration {
	for _, raw := range []string{os.Getenv(envKey), fromConfig(get)} {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// GetAutoSyncEnabled returns whether auto-sync is enabled.
// Priority: PUNCH_SYNC_AUTO env > config.json sync.auto.enabled > true
func GetAutoSyncEnabled() bool {
	return boolSetting("PUNCH_SYNC_AUTO", func(c *Config) *bool { return c.Sync.Auto.Enabled }, true)
}

// SetAutoSyncEnabled persists sync.auto.enabled
func SetAutoSyncEnabled(enabled bool) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	cfg.Sync.Auto.Enabled = &enabled
	return SaveConfig(cfg)
}

// GetSyncOnPunch returns whether a quick sync runs right after a punch.
// Priority: PUNCH_SYNC_ON_PUNCH env > config.json sync.auto.on_punch > true
func GetSyncOnPunch() bool {
	return boolSetting("PUNCH_SYNC_ON_PUNCH", func(c *Config) *bool { return c.Sync.Auto.OnPunch }, true)
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: PUNCH_SYNC_INTERVAL env > config.json sync.auto.interval > 30s
func GetAutoSyncInterval() time.Duration {
	return durationSetting("PUNCH_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Auto.Interval }, DefaultInterval)
}

// GetProbeInterval returns how often connectivity is probed.
// Priority: PUNCH_PROBE_INTERVAL env > config.json sync.auto.probe > 15s
func GetProbeInterval() time.Duration {
	return durationSetting("PUNCH_PROBE_INTERVAL", func(c *Config) string { return c.Sync.Auto.Probe }, DefaultProbeEvery)
}

// GetRetryBaseDelay returns the first retry delay.
// Priority: PUNCH_SYNC_BACKOFF_BASE env > config.json sync.retry.base_delay > 1s
func GetRetryBaseDelay() time.Duration {
	return durationSetting("PUNCH_SYNC_BACKOFF_BASE", func(c *Config) string { return c.Sync.Retry.BaseDelay }, DefaultBaseDelay)
}

// GetRetryMaxDelay returns the backoff ceiling.
// Priority: PUNCH_SYNC_BACKOFF_MAX env > config.json sync.retry.max_delay > 30s
func GetRetryMaxDelay() time.Duration {
	return durationSetting("PUNCH_SYNC_BACKOFF_MAX", func(c *Config) string { return c.Sync.Retry.MaxDelay }, DefaultMaxDelay)
}

// GetMaxAttempts returns how many retryable failures an item absorbs before
// it is marked failed.
// Priority: PUNCH_SYNC_MAX_ATTEMPTS env > config.json sync.retry.max_attempts > 3
func GetMaxAttempts() int {
	if n, err := strconv.Atoi(os.Getenv("PUNCH_SYNC_MAX_ATTEMPTS")); err == nil && n > 0 {
		return n
	}
	if n := fromConfig(func(c *Config) *int { return c.Sync.Retry.MaxAttempts }); n != nil && *n > 0 {
		return *n
	}
	return DefaultMaxAttempts
}
