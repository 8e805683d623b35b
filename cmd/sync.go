package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/output"
	psync "github.com/marcus/punch/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass now",
	Long: `Uploads queued punches and other mutations, then downloads recent punches
and refreshes the cached users, geofences and departments.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		stack, err := openSyncStack(ctx, true)
		if err != nil {
			return report(jsonOut, err)
		}
		defer stack.Close()

		if !stack.mon.IsOnline() {
			return report(jsonOut, fmt.Errorf("%w: %s is unreachable", psync.ErrOffline, stack.client.BaseURL))
		}

		start := time.Now()
		ran, res, err := stack.engine.SyncAll(ctx)
		if err != nil {
			return report(jsonOut, err)
		}
		if !ran {
			output.Warning("a sync pass is already running")
			return nil
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"uploaded":   res.Uploaded,
				"retried":    res.Retried,
				"failed":     res.Failed,
				"downloaded": res.Downloaded,
				"purged":     res.Purged,
				"took_ms":    time.Since(start).Milliseconds(),
			})
		}
		output.Success("Synced in %s", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  uploaded %d, downloaded %d\n", res.Uploaded, res.Downloaded)
		if res.Retried > 0 {
			fmt.Printf("  %d will retry\n", res.Retried)
		}
		if res.Failed > 0 {
			output.Warning("%d item(s) failed; inspect with 'punch queue --failed', retry with 'punch resolve'", res.Failed)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show connectivity, queue and clock state",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		offline, _ := cmd.Flags().GetBool("offline")
		stack, err := openSyncStack(ctx, !offline)
		if err != nil {
			return report(jsonOut, err)
		}
		defer stack.Close()

		st, err := stack.engine.Status(ctx)
		if err != nil {
			return report(jsonOut, err)
		}
		if jsonOut {
			return output.JSON(st)
		}

		conn := "offline"
		if st.IsOnline {
			conn = "online"
		}
		fmt.Printf("Server:    %s (%s)\n", stack.client.BaseURL, conn)
		fmt.Printf("Auto-sync: %v\n", st.AutoSyncEnabled)
		fmt.Printf("Last sync: %s\n", output.FormatTimeAgo(st.LastSyncAt))
		fmt.Printf("Queue:     %d pending, %d syncing, %d failed, %d completed\n",
			st.Pending, st.Syncing, st.Failed, st.Completed)
		if w := stack.db.CurrentWriter(); w != nil {
			fmt.Printf("Writer:    %s\n", w)
		}

		if userID, err := punchUser(cmd); err == nil {
			fmt.Println()
			return printState(ctx, stack.db, userID, false)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Re-queue failed items with a fresh set of attempts",
	Long: `Moves every failed queue item back to pending with its attempt count reset.
With --sync a pass runs immediately afterwards.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		doSync, _ := cmd.Flags().GetBool("sync")

		stack, err := openSyncStack(ctx, doSync)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer stack.Close()

		before, err := stack.engine.Status(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if _, err := stack.engine.ResolveConflicts(ctx); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Re-queued %d failed item(s)", before.Failed)

		if !doSync {
			return nil
		}
		ran, err := stack.engine.ForceSyncNow(ctx)
		switch {
		case errors.Is(err, psync.ErrOffline):
			output.Warning("offline; items will go out on the next sync")
		case err != nil:
			output.Error("sync: %v", err)
			return err
		case ran:
			output.Success("Sync complete")
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "List sync queue items",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		filter := queueFilterFromFlags(cmd)
		items, err := database.ListQueue(ctx, filter)
		if err != nil {
			return report(jsonOut, err)
		}
		if jsonOut {
			return output.JSON(items)
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}
		for i := range items {
			fmt.Println(output.FormatQueueItem(&items[i]))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd, resolveCmd, queueCmd)

	syncCmd.Flags().Bool("json", false, "Output as JSON")

	statusCmd.Flags().Bool("json", false, "Output as JSON")
	statusCmd.Flags().Bool("offline", false, "Skip the server reachability check")
	statusCmd.Flags().String("user", "", "User id (defaults to the configured user)")

	resolveCmd.Flags().Bool("sync", false, "Run a sync pass after re-queueing")

	queueCmd.Flags().Bool("json", false, "Output as JSON")
	queueCmd.Flags().Bool("failed", false, "Only failed items")
	queueCmd.Flags().Bool("all", false, "Include completed items")
	queueCmd.Flags().String("entity", "", "Only items for this entity type (punch, user, geofence, department)")
	queueCmd.Flags().Int("limit", 50, "Max items to show")
}

// queueFilterFromFlags hides completed items unless --all is given
func queueFilterFromFlags(cmd *cobra.Command) db.QueueFilter {
	failed, _ := cmd.Flags().GetBool("failed")
	all, _ := cmd.Flags().GetBool("all")
	entity, _ := cmd.Flags().GetString("entity")
	limit, _ := cmd.Flags().GetInt("limit")

	f := db.QueueFilter{EntityType: models.EntityType(entity), Limit: limit}
	switch {
	case failed:
		f.Statuses = []models.QueueStatus{models.QueueFailed}
	case !all:
		f.Statuses = []models.QueueStatus{models.QueuePending, models.QueueSyncing, models.QueueFailed}
	}
	return f
}
