// Package version checks GitHub releases for a newer punch build and caches
// the answer so the lookup runs at most once per TTL.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ReleaseURL is the GitHub endpoint for the latest release. Tests point it at
// an httptest server.
var ReleaseURL = "https://api.github.com/repos/marcus/punch/releases/latest"

// CacheTTL is how long a successful check is reused
const CacheTTL = 6 * time.Hour

// Release is the subset of the GitHub release response we read
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// CheckResult holds the outcome of a version check
type CheckResult struct {
	CurrentVersion string
	LatestVersion  string
	UpdateURL      string
	HasUpdate      bool
}

// Check fetches the latest release and compares it with current.
// Development builds are never checked.
func Check(ctx context.Context, client *http.Client, current string) (CheckResult, error) {
	result := CheckResult{CurrentVersion: current}
	if IsDevelopmentVersion(current) {
		return result, nil
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleaseURL, nil)
	if err != nil {
		return result, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("github api: %s", resp.Status)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return result, fmt.Errorf("decode release: %w", err)
	}
	result.LatestVersion = rel.TagName
	result.UpdateURL = rel.HTMLURL
	result.HasUpdate = IsNewer(rel.TagName, current)
	return result, nil
}

// IsDevelopmentVersion returns true for non-release versions
func IsDevelopmentVersion(v string) bool {
	switch v {
	case "", "unknown", "dev", "devel":
		return true
	}
	return strings.HasPrefix(v, "devel+")
}

// parseSemver extracts major.minor.patch, ignoring prerelease and build
// suffixes. Missing or unparsable parts read as 0.
func parseSemver(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return [3]int{}
		}
		out[i] = n
	}
	return out
}

// IsNewer reports whether latest is a higher release than current
func IsNewer(latest, current string) bool {
	l, c := parseSemver(latest), parseSemver(current)
	for i := range l {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

var validVersion = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9]+([.-][a-zA-Z0-9]+)*)?$`)

// UpdateCommand returns the go install line for v, or "" when v is not a
// plain semver tag.
func UpdateCommand(v string) string {
	if !validVersion.MatchString(v) {
		return ""
	}
	return fmt.Sprintf(`go install -ldflags "-X main.Version=%s" github.com/marcus/punch@%s`, v, v)
}

// CacheEntry is the persisted result of the last successful check
type CacheEntry struct {
	LatestVersion  string    `json:"latest_version"`
	CurrentVersion string    `json:"current_version"`
	CheckedAt      time.Time `json:"checked_at"`
	HasUpdate      bool      `json:"has_update"`
}

// IsCacheValid reports whether e answers for current and is younger than CacheTTL
func IsCacheValid(e *CacheEntry, current string, now time.Time) bool {
	if e == nil || e.CurrentVersion != current {
		return false
	}
	return now.Sub(e.CheckedAt) < CacheTTL
}

// LoadCache reads the cache file in dir
func LoadCache(dir string) (*CacheEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, "version_cache.json"))
	if err != nil {
		return nil, err
	}
	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveCache writes e to the cache file in dir
func SaveCache(dir string, e *CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "version_cache.json"), data, 0644)
}
