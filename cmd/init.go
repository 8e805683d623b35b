package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/punch/internal/config"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a punch store in this directory",
	Long:    `Creates the local .punch directory and SQLite database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		// init always targets the working directory, not an enclosing store
		baseDir := os.Getenv("PUNCH_DIR")
		if baseDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			baseDir = wd
		}

		if _, err := os.Stat(filepath.Join(baseDir, ".punch", "punch.db")); err == nil {
			output.Warning(".punch/ already exists")
			return nil
		}

		database, err := db.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		fmt.Println("INITIALIZED .punch/")

		if user, _ := cmd.Flags().GetString("user"); user != "" {
			if err := config.SetUserID(baseDir, user); err != nil {
				output.Error("failed to save user: %v", err)
				return err
			}
			fmt.Printf("User: %s\n", user)
		}

		addToGitignore(filepath.Join(baseDir, ".gitignore"))
		return nil
	},
}

// addToGitignore ignores .punch/ when the directory already has a .gitignore
func addToGitignore(path string) {
	content, err := os.ReadFile(path)
	if err != nil || strings.Contains(string(content), ".punch/") {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		f.WriteString("\n")
	}
	f.WriteString(".punch/\n")
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("user", "", "User id punches are recorded for")
}
