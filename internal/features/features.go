// Package features resolves named feature flags. An environment override
// wins over the project config, which wins over the built-in default.
package features

import (
	"os"
	"slices"
	"strings"

	"github.com/marcus/punch/internal/config"
)

// Feature is a named switch with its built-in default
type Feature struct {
	Name        string
	Default     bool
	Description string
}

// Sources reported by Resolve
const (
	SourceEnv     = "env"
	SourceConfig  = "config"
	SourceDefault = "default"
)

var (
	// LocationEnforcement rejects punches recorded outside every active geofence
	LocationEnforcement = Feature{"location_enforcement", true, "Reject punches outside all active geofences"}

	// ReferenceDownload refreshes cached users, geofences and departments on
	// every sync pass
	ReferenceDownload = Feature{"reference_download", true, "Download users, geofences and departments during sync"}

	// InteractivePrompt offers a punch type picker when none is given on a TTY
	InteractivePrompt = Feature{"interactive_prompt", true, "Prompt for the punch type when run interactively"}
)

var registry = func() map[string]Feature {
	m := map[string]Feature{}
	for _, f := range []Feature{LocationEnforcement, ReferenceDownload, InteractivePrompt} {
		m[f.Name] = f
	}
	return m
}()

// ListAll returns every registered feature sorted by name
func ListAll() []Feature {
	out := make([]Feature, 0, len(registry))
	for _, f := range registry {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Feature) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func IsKnownFeature(name string) bool {
	_, ok := registry[canonical(name)]
	return ok
}

// IsEnabled is Resolve without the source
func IsEnabled(baseDir, name string) bool {
	on, _ := Resolve(baseDir, name)
	return on
}

// Resolve returns the effective state of a flag and where it came from.
// Unknown flags resolve to false.
func Resolve(baseDir, name string) (bool, string) {
	name = canonical(name)
	if on, ok := fromEnv(name); ok {
		return on, SourceEnv
	}
	if baseDir != "" {
		if on, set, err := config.GetFeatureFlag(baseDir, name); err == nil && set {
			return on, SourceConfig
		}
	}
	return registry[name].Default, SourceDefault
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// envKey maps a flag name to PUNCH_FEATURE_<NAME>, anything outside
// [A-Z0-9] becoming an underscore
func envKey(name string) string {
	return "PUNCH_FEATURE_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return '_'
	}, strings.TrimSpace(name))
}

// fromEnv checks the per-flag variable, then the comma separated
// PUNCH_DISABLE_FEATURES and PUNCH_ENABLE_FEATURES lists
func fromEnv(name string) (on, ok bool) {
	switch canonical(os.Getenv(envKey(name))) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	}
	if listed(os.Getenv("PUNCH_DISABLE_FEATURES"), name) {
		return false, true
	}
	if listed(os.Getenv("PUNCH_ENABLE_FEATURES"), name) {
		return true, true
	}
	return false, false
}

func listed(list, name string) bool {
	for item := range strings.SplitSeq(list, ",") {
		if canonical(item) == name {
			return true
		}
	}
	return false
}
