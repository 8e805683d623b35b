// Package config manages the per-directory settings file .punch/config.json:
// the user punches are recorded for, a fallback location and feature flag
// overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
)

const (
	dirName  = ".punch"
	fileName = "config.json"
	lockName = "config.json.lock"
)

func filePath(baseDir, name string) string {
	return filepath.Join(baseDir, dirName, name)
}

// Load returns the stored config, or an empty one before the first write
func Load(baseDir string) (*models.Config, error) {
	p := filePath(baseDir, fileName)
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &models.Config{}, nil
	case err != nil:
		return nil, err
	}

	cfg := &models.Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", p, err)
	}
	return cfg, nil
}

// Save replaces the config file. Readers see either the old or the new file.
func Save(baseDir string, cfg *models.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return replaceFile(filePath(baseDir, fileName), append(data, '\n'))
}

func replaceFile(dst string, data []byte) (err error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// mutate runs load, edit and save as one step under the config file lock
func mutate(baseDir string, edit func(cfg *models.Config)) error {
	lockPath := filePath(baseDir, lockName)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}
	unlock, err := lockConfig(lockPath)
	if err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer unlock()

	cfg, err := Load(baseDir)
	if err != nil {
		return err
	}
	edit(cfg)
	return Save(baseDir, cfg)
}

// SetUserID records the user punches are submitted for
func SetUserID(baseDir, userID string) error {
	userID = strings.TrimSpace(userID)
	return mutate(baseDir, func(cfg *models.Config) { cfg.UserID = userID })
}

// GetUserID returns the configured user. PUNCH_USER wins over the file.
func GetUserID(baseDir string) (string, error) {
	if v := os.Getenv("PUNCH_USER"); v != "" {
		return v, nil
	}
	cfg, err := Load(baseDir)
	if err != nil {
		return "", err
	}
	return cfg.UserID, nil
}

// GetDefaultLocation returns the coordinates used for punches submitted
// without any; nil when unset.
func GetDefaultLocation(baseDir string) (*geo.Point, error) {
	cfg, err := Load(baseDir)
	if err != nil || cfg.DefaultLat == nil || cfg.DefaultLon == nil {
		return nil, err
	}
	return &geo.Point{Lat: *cfg.DefaultLat, Lon: *cfg.DefaultLon}, nil
}

// SetDefaultLocation stores the fallback coordinates; nil clears them
func SetDefaultLocation(baseDir string, p *geo.Point) error {
	if p != nil && !p.Valid() {
		return fmt.Errorf("invalid coordinates %s", p)
	}
	return mutate(baseDir, func(cfg *models.Config) {
		cfg.DefaultLat, cfg.DefaultLon = nil, nil
		if p != nil {
			lat, lon := p.Lat, p.Lon
			cfg.DefaultLat, cfg.DefaultLon = &lat, &lon
		}
	})
}

// GetFeatureFlag reports a flag override; set is false when the file has none
func GetFeatureFlag(baseDir, name string) (enabled, set bool, err error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return false, false, err
	}
	enabled, set = cfg.FeatureFlags[name]
	return enabled, set, nil
}

// SetFeatureFlag stores a flag override
func SetFeatureFlag(baseDir, name string, enabled bool) error {
	return mutate(baseDir, func(cfg *models.Config) {
		if cfg.FeatureFlags == nil {
			cfg.FeatureFlags = map[string]bool{}
		}
		cfg.FeatureFlags[name] = enabled
	})
}

// UnsetFeatureFlag drops a flag override so the default applies again
func UnsetFeatureFlag(baseDir, name string) error {
	return mutate(baseDir, func(cfg *models.Config) {
		delete(cfg.FeatureFlags, name)
		if len(cfg.FeatureFlags) == 0 {
			cfg.FeatureFlags = nil
		}
	})
}
