package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/marcus/punch/internal/connectivity"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/output"
	psync "github.com/marcus/punch/internal/sync"
	"github.com/marcus/punch/internal/syncconfig"
	"github.com/spf13/cobra"
)

// postPunchTimeout bounds the quick sync after a punch so the command
// returns promptly on a bad network.
const postPunchTimeout = 5 * time.Second

// syncAfterPunch runs one quick pass after a punch is recorded. It skips the
// reference download and only logs failures; the queue keeps the punch
// until a later pass delivers it.
func syncAfterPunch(ctx context.Context, database *db.DB) {
	if !syncconfig.GetSyncOnPunch() || !syncconfig.IsAuthenticated() {
		return
	}
	if !autoSyncEnabled(ctx, database) {
		return
	}

	client, err := newClient()
	if err != nil {
		slog.Debug("autosync: client", "err", err)
		return
	}
	client.HTTP.Timeout = postPunchTimeout

	ctx, cancel := context.WithTimeout(ctx, postPunchTimeout)
	defer cancel()

	if !probeOnce(ctx, client) {
		slog.Debug("autosync: offline, punch stays queued")
		return
	}

	opts := engineOptions(ctx, database)
	opts.SkipReference = true
	engine := psync.New(database, client, connectivity.New(true), opts)
	_, res, err := engine.SyncAll(ctx)
	if err != nil {
		slog.Debug("autosync: pass", "err", err)
		return
	}
	slog.Debug("autosync: pass", "uploaded", res.Uploaded, "retried", res.Retried)
}

var autosyncCmd = &cobra.Command{
	Use:     "autosync [on|off]",
	Short:   "Show or change automatic syncing for this store",
	Long: `Without an argument prints whether automatic syncing is active. "on" and
"off" set a per-store override on top of the global setting
(PUNCH_SYNC_AUTO / sync.auto.enabled in ~/.config/punch/config.json).`,
	GroupID:   "sync",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if len(args) == 1 {
			global, _ := cmd.Flags().GetBool("global")
			switch {
			case args[0] != "on" && args[0] != "off":
				err = fmt.Errorf("expected on or off, got %q", args[0])
			case global:
				err = syncconfig.SetAutoSyncEnabled(args[0] == "on")
			default:
				err = database.SetSetting(ctx, db.SettingAutoSyncOff, strconv.FormatBool(args[0] == "off"))
			}
			if err != nil {
				output.Error("%v", err)
				return err
			}
		}

		if autoSyncEnabled(ctx, database) {
			fmt.Println("auto-sync: on")
		} else if !syncconfig.GetAutoSyncEnabled() {
			fmt.Println("auto-sync: off (global setting)")
		} else {
			fmt.Println("auto-sync: off")
		}
		return nil
	},
}

func init() {
	autosyncCmd.Flags().Bool("global", false, "Change the global setting instead of this store's override")
	rootCmd.AddCommand(autosyncCmd)
}
