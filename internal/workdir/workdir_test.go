package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveBaseDir_FindsStoreFromSubdir(t *testing.T) {
	project := t.TempDir()
	mkdir(t, filepath.Join(project, storeDir))
	subdir := filepath.Join(project, "nested", "dir")
	mkdir(t, subdir)

	assertSamePath(t, project, ResolveBaseDir(subdir))
}

func TestResolveBaseDir_NearestStoreWins(t *testing.T) {
	outer := t.TempDir()
	mkdir(t, filepath.Join(outer, storeDir))
	inner := filepath.Join(outer, "site")
	mkdir(t, filepath.Join(inner, storeDir))
	subdir := filepath.Join(inner, "a")
	mkdir(t, subdir)

	assertSamePath(t, inner, ResolveBaseDir(subdir))
}

func TestResolveBaseDir_NoMarkersReturnsStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plain")
	mkdir(t, dir)

	if got := ResolveBaseDir(dir); got != dir {
		t.Fatalf("expected %q unchanged, got %q", dir, got)
	}
}

func TestResolveBaseDir_IgnoresStoreFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, storeDir), []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ResolveBaseDir(dir); got != dir {
		t.Fatalf("expected %q, got %q", dir, got)
	}
}

func TestResolveBaseDir_FollowsAbsoluteRootFile(t *testing.T) {
	project := t.TempDir()
	shared := filepath.Join(t.TempDir(), "shared")
	mkdir(t, shared)
	writeRoot(t, project, shared+"\n")

	assertSamePath(t, shared, ResolveBaseDir(project))
}

func TestResolveBaseDir_FollowsRelativeRootFileFromSubdir(t *testing.T) {
	parent := t.TempDir()
	project := filepath.Join(parent, "project")
	shared := filepath.Join(parent, "shared")
	mkdir(t, shared)
	subdir := filepath.Join(project, "x", "y")
	mkdir(t, subdir)
	writeRoot(t, project, "../shared")

	assertSamePath(t, shared, ResolveBaseDir(subdir))
}

func TestResolveBaseDir_EmptyRootFileIgnored(t *testing.T) {
	project := t.TempDir()
	mkdir(t, filepath.Join(project, storeDir))
	writeRoot(t, project, "  \n")

	assertSamePath(t, project, ResolveBaseDir(project))
}

func mkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create %s: %v", dir, err)
	}
}

func writeRoot(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, rootFile), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rootFile, err)
	}
}

func assertSamePath(t *testing.T, want string, got string) {
	t.Helper()

	wantResolved, wantErr := filepath.EvalSymlinks(want)
	if wantErr != nil {
		wantResolved = filepath.Clean(want)
	}

	gotResolved, gotErr := filepath.EvalSymlinks(got)
	if gotErr != nil {
		gotResolved = filepath.Clean(got)
	}

	if wantResolved != gotResolved {
		t.Fatalf("expected %q, got %q", wantResolved, gotResolved)
	}
}
