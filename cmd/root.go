package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/punch/internal/syncconfig"
	"github.com/marcus/punch/internal/workdir"
	"github.com/spf13/cobra"
)

var (
	versionStr string
	baseDir    string
)

// SetVersion sets the string reported by --version and `punch version`
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "punch",
	Short: "Offline-first time clock",
	Long: `punch - record clock-in, clock-out and break events locally and sync them
to the time-tracking server whenever it is reachable.

Every punch is checked against the cached geofences, written to a local store
together with a sync queue entry, and uploaded with retry and backoff.`,
	SilenceUsage: true,
	Version:      "dev",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.LoadDotEnv(filepath.Join(getBaseDir(), ".env")); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		setupLogging()
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir)

	rootCmd.AddGroup(
		&cobra.Group{ID: "punch", Title: "Punch Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

func initBaseDir() {
	if dir := os.Getenv("PUNCH_DIR"); dir != "" {
		baseDir = dir
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = workdir.ResolveBaseDir(wd)
}

// getBaseDir returns the directory holding .punch/
func getBaseDir() string {
	return baseDir
}
