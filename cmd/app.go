package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/punch/internal/config"
	"github.com/marcus/punch/internal/connectivity"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/features"
	"github.com/marcus/punch/internal/output"
	"github.com/marcus/punch/internal/session"
	psync "github.com/marcus/punch/internal/sync"
	"github.com/marcus/punch/internal/syncclient"
	"github.com/marcus/punch/internal/syncconfig"
)

// probeTimeout bounds the one-shot reachability check run by short-lived commands
const probeTimeout = 3 * time.Second

// openStore opens the project store in the working directory
func openStore() (*db.DB, error) {
	return db.Open(getBaseDir())
}

// newClient builds a gateway client from the global sync config
func newClient() (*syncclient.Client, error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	return syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID), nil
}

// probeOnce reports whether the gateway answers its health check
func probeOnce(ctx context.Context, client *syncclient.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Debug("gateway unreachable", "url", client.BaseURL, "err", err)
		return false
	}
	return true
}

// autoSyncEnabled combines the global setting with the per-store override
// written by `punch autosync off`.
func autoSyncEnabled(ctx context.Context, database *db.DB) bool {
	if !syncconfig.GetAutoSyncEnabled() {
		return false
	}
	v, err := database.GetSetting(ctx, db.SettingAutoSyncOff)
	if err != nil {
		return true
	}
	return v != "true"
}

// engineOptions resolves engine tuning from config, env and feature flags
func engineOptions(ctx context.Context, database *db.DB) psync.Options {
	dir := getBaseDir()
	userID, err := config.GetUserID(dir)
	if err != nil {
		slog.Warn("read project config", "err", err)
	}
	return psync.Options{
		BaseDelay:     syncconfig.GetRetryBaseDelay(),
		MaxDelay:      syncconfig.GetRetryMaxDelay(),
		MaxAttempts:   syncconfig.GetMaxAttempts(),
		Interval:      syncconfig.GetAutoSyncInterval(),
		UserID:        userID,
		SkipReference: !features.IsEnabled(dir, features.ReferenceDownload.Name),
		AutoSync:      autoSyncEnabled(ctx, database),
		Logger:        slog.Default(),
	}
}

// syncStack is everything a sync-capable command needs
type syncStack struct {
	db     *db.DB
	client *syncclient.Client
	mon    *connectivity.Monitor
	engine *psync.Engine
}

// openSyncStack opens the store and wires the client, monitor and engine.
// When probe is set the monitor starts from a live health check, otherwise
// it starts offline and waits for a watcher.
func openSyncStack(ctx context.Context, probe bool) (*syncStack, error) {
	database, err := openStore()
	if err != nil {
		return nil, err
	}
	client, err := newClient()
	if err != nil {
		database.Close()
		return nil, err
	}
	online := false
	if probe {
		online = probeOnce(ctx, client)
	}
	mon := connectivity.New(online)
	engine := psync.New(database, client, mon, engineOptions(ctx, database))
	return &syncStack{db: database, client: client, mon: mon, engine: engine}, nil
}

func (s *syncStack) Close() error {
	s.engine.Stop()
	return s.db.Close()
}

// newSessionService builds the punch service with the project's enforcement flag
func newSessionService(database *db.DB) *session.Service {
	enforce := features.IsEnabled(getBaseDir(), features.LocationEnforcement.Name)
	return session.NewService(database, session.WithLocationEnforcement(enforce))
}

// errorCode maps domain errors to the structured JSON error codes
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return output.ErrCodeInvalidTransition
	case errors.Is(err, session.ErrLocationNotAuthorized):
		return output.ErrCodeLocationDenied
	case errors.Is(err, db.ErrStorageFull):
		return output.ErrCodeStorageFull
	case errors.Is(err, db.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, psync.ErrOffline):
		return output.ErrCodeOffline
	case errors.Is(err, db.ErrStoreBusy):
		return output.ErrCodeStoreBusy
	case errors.Is(err, db.ErrStoreNotReady):
		return output.ErrCodeDatabaseError
	default:
		return output.ErrCodeInvalidInput
	}
}

// report prints err in the requested format and returns it for cobra
func report(jsonOut bool, err error) error {
	if jsonOut {
		output.JSONError(errorCode(err), err.Error())
	} else {
		output.Error("%v", err)
	}
	return err
}
