package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/punch/internal/dateparse"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/output"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recorded punches in time order",
	GroupID: "punch",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		filter, err := punchFilterFromFlags(cmd, time.Now())
		if err != nil {
			return report(jsonOut, err)
		}

		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		punches, err := database.ListPunches(cmd.Context(), filter)
		if err != nil {
			return report(jsonOut, err)
		}
		if jsonOut {
			return output.JSON(punches)
		}
		if len(punches) == 0 {
			fmt.Println("No punches")
			return nil
		}
		for i := range punches {
			fmt.Println(output.FormatPunchShort(&punches[i]))
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:     "log",
	Short:   "Show recent sync activity",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		limit, _ := cmd.Flags().GetInt("limit")

		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		entries, err := database.GetSyncHistoryTail(cmd.Context(), limit)
		if err != nil {
			return report(jsonOut, err)
		}
		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No sync activity yet")
			return nil
		}
		for i := range entries {
			fmt.Println(output.FormatHistoryEntry(&entries[i]))
		}
		return nil
	},
}

// punchFilterFromFlags builds a filter from --user, --since, --until,
// --unsynced and --limit
func punchFilterFromFlags(cmd *cobra.Command, now time.Time) (db.PunchFilter, error) {
	user, _ := cmd.Flags().GetString("user")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	unsynced, _ := cmd.Flags().GetBool("unsynced")
	limit, _ := cmd.Flags().GetInt("limit")

	f := db.PunchFilter{UserID: user, Limit: limit}
	if unsynced {
		f.SyncState = models.SyncStateUnsynced
	}
	var err error
	if since != "" {
		if f.Since, err = dateparse.ParseFrom(since, now); err != nil {
			return f, fmt.Errorf("--since: %w", err)
		}
	}
	if until != "" {
		if f.Until, err = dateparse.ParseFrom(until, now); err != nil {
			return f, fmt.Errorf("--until: %w", err)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Until.After(f.Since) {
		return f, fmt.Errorf("--until must be after --since")
	}
	return f, nil
}

func init() {
	rootCmd.AddCommand(listCmd, logCmd)

	listCmd.Flags().Bool("json", false, "Output as JSON")
	listCmd.Flags().String("user", "", "Only punches for this user")
	listCmd.Flags().String("since", "", "Only punches at or after this point (today, yesterday, -7d, monday, 24h, 2006-01-02)")
	listCmd.Flags().String("until", "", "Only punches before this point (same formats as --since)")
	listCmd.Flags().Bool("unsynced", false, "Only punches not yet accepted by the server")
	listCmd.Flags().IntP("limit", "n", 50, "Max punches to show")

	logCmd.Flags().Bool("json", false, "Output as JSON")
	logCmd.Flags().IntP("limit", "n", 30, "Entries to show")
}
