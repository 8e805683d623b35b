package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/punch/internal/syncconfig"
	"github.com/marcus/punch/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Show version information",
	GroupID: "system",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Print(versionStr)
			return
		}
		fmt.Printf("punch version %s\n", versionStr)

		check, _ := cmd.Flags().GetBool("check")
		if !check || version.IsDevelopmentVersion(versionStr) {
			return
		}

		dir, err := syncconfig.ConfigDir()
		if err != nil {
			return
		}
		now := time.Now()
		if cached, err := version.LoadCache(dir); err == nil && version.IsCacheValid(cached, versionStr, now) {
			if cached.HasUpdate {
				printUpdate(cached.LatestVersion)
			}
			return
		}

		res, err := version.Check(cmd.Context(), nil, versionStr)
		if err != nil {
			// Network errors are not worth surfacing here
			return
		}
		_ = version.SaveCache(dir, &version.CacheEntry{
			LatestVersion:  res.LatestVersion,
			CurrentVersion: versionStr,
			CheckedAt:      now,
			HasUpdate:      res.HasUpdate,
		})
		if res.HasUpdate {
			printUpdate(res.LatestVersion)
		}
	},
}

func printUpdate(latest string) {
	fmt.Printf("\nUpdate available: %s → %s\n", versionStr, latest)
	if c := version.UpdateCommand(latest); c != "" {
		fmt.Printf("Run: %s\n", c)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("short", false, "Print only the version")
	versionCmd.Flags().Bool("check", true, "Check GitHub for a newer release")
}
