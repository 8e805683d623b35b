// Package workdir locates the directory holding a punch store, so commands
// run from a subdirectory use the store of the enclosing project. A
// .punch-root file redirects to a store kept elsewhere.
package workdir

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	storeDir = ".punch"
	rootFile = ".punch-root"
)

// ResolveBaseDir walks from start towards the filesystem root and returns the
// first directory that has a .punch directory or a .punch-root file. A
// .punch-root file holds the path to use instead; relative paths are taken
// from the directory containing the file. When nothing is found start is
// returned unchanged.
func ResolveBaseDir(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if target, ok := readRootFile(dir); ok {
			return target
		}
		if fi, err := os.Stat(filepath.Join(dir, storeDir)); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func readRootFile(dir string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(dir, rootFile))
	if err != nil {
		return "", false
	}
	target := strings.TrimSpace(string(content))
	if target == "" {
		return "", false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	return filepath.Clean(target), true
}
