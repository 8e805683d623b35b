package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockFileName     = "write.lock"
	syncLockFileName = "sync.lock"
	lockTimeout      = 500 * time.Millisecond
	lockPollInitial  = 5 * time.Millisecond
	lockPollInterval = 50 * time.Millisecond
)

// ErrStoreBusy is returned when another process keeps the store's write lock
// past the wait timeout. The concrete error is a *LockHeldError.
var ErrStoreBusy = errors.New("store busy")

// LockHolder describes the process holding the write lock
type LockHolder struct {
	PID     int       `json:"pid"`
	Command string    `json:"command"`
	Since   time.Time `json:"since"`
	// Alive is filled in by the reader; false means the process is gone and
	// the OS lock will already have been dropped.
	Alive bool `json:"-"`
}

func (h *LockHolder) String() string {
	if h == nil {
		return "unknown holder"
	}
	s := fmt.Sprintf("pid %d (%s) since %s", h.PID, h.Command, h.Since.Local().Format(time.TimeOnly))
	if !h.Alive {
		s += ", process gone"
	}
	return s
}

// LockHeldError reports a write lock wait that timed out
type LockHeldError struct {
	Waited time.Duration
	Holder *LockHolder
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("store busy: write lock held by %s after waiting %v", e.Holder, e.Waited)
}

func (e *LockHeldError) Unwrap() error { return ErrStoreBusy }

// writeLock is an exclusive cross-process lock on the store. The OS drops it
// when the holding process exits, crashes included.
type writeLock struct {
	path string
	f    *os.File
}

func newWriteLock(baseDir string) *writeLock {
	return &writeLock{path: filepath.Join(baseDir, storeDir, lockFileName)}
}

// acquire polls for the lock until it is free, timeout elapses or ctx ends
func (l *writeLock) acquire(ctx context.Context, timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	start := time.Now()
	wait := lockPollInitial
	for {
		if err := lockFile(f); err == nil {
			l.f = f
			l.recordHolder()
			return nil
		}

		if time.Since(start) >= timeout {
			f.Close()
			return &LockHeldError{Waited: timeout, Holder: readLockHolder(l.path)}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			f.Close()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, lockPollInterval)
	}
}

func (l *writeLock) release() {
	if l.f == nil {
		return
	}
	l.f.Truncate(0)
	unlockFile(l.f)
	l.f.Close()
	l.f = nil
}

func (l *writeLock) recordHolder() {
	data, err := json.Marshal(LockHolder{
		PID:     os.Getpid(),
		Command: holderCommand(),
		Since:   time.Now(),
	})
	if err != nil {
		return
	}
	l.f.Truncate(0)
	l.f.WriteAt(data, 0)
}

// holderCommand names the running command, e.g. "punch run"
func holderCommand() string {
	if len(os.Args) == 0 {
		return "unknown"
	}
	parts := []string{filepath.Base(os.Args[0])}
	for _, a := range os.Args[1:] {
		if strings.HasPrefix(a, "-") {
			break
		}
		parts = append(parts, a)
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, " ")
}

// readLockHolder parses the holder record; nil when absent or unreadable
func readLockHolder(path string) *LockHolder {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var h LockHolder
	if err := json.Unmarshal(data, &h); err != nil || h.PID == 0 {
		return nil
	}
	h.Alive = processAlive(h.PID)
	return &h
}

// CurrentWriter returns the process holding the write lock right now, or nil
// when the store is idle.
func (db *DB) CurrentWriter() *LockHolder {
	path := filepath.Join(db.baseDir, storeDir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil
	}
	defer f.Close()
	if err := lockFile(f); err == nil {
		unlockFile(f)
		return nil
	}
	return readLockHolder(path)
}

// BeginSyncPass takes the store's sync lease without waiting. The lease is
// held for a whole pass so that RevertSyncing in one process never takes back
// an item another process is still uploading. The returned func releases it.
func (db *DB) BeginSyncPass(ctx context.Context) (func(), error) {
	l := &writeLock{path: filepath.Join(db.baseDir, storeDir, syncLockFileName)}
	if err := l.acquire(ctx, 0); err != nil {
		var held *LockHeldError
		if errors.As(err, &held) {
			return nil, fmt.Errorf("%w: %s", ErrPassRunning, held.Holder)
		}
		return nil, err
	}
	return l.release, nil
}
