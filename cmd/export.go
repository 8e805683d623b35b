package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/output"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Write punches, queue, settings and zones to a JSON snapshot",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		database, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		snap, err := database.Export(cmd.Context())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var w io.Writer = os.Stdout
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			defer f.Close()
			w = f
		}
		if err := db.WriteSnapshot(w, snap); err != nil {
			output.Error("%v", err)
			return err
		}
		if w != os.Stdout {
			output.Success("Exported %d punches, %d queue items, %d zones to %s",
				len(snap.Punches), len(snap.Queue), len(snap.Geofences), out)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <snapshot.json>",
	Short: "Replace the local store contents with a snapshot",
	Long: `Replaces punches, queue, settings and zones with the contents of a snapshot
written by 'punch export'. Existing local data is discarded.`,
	GroupID: "data",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		f, err := os.Open(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer f.Close()
		snap, err := db.ReadSnapshot(f)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		database, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if !force {
			if !interactive() {
				err := fmt.Errorf("import replaces local data; pass --force to confirm")
				output.Error("%v", err)
				return err
			}
			ok := false
			confirm := huh.NewConfirm().
				Title(fmt.Sprintf("Replace local data with %d punches and %d queue items?", len(snap.Punches), len(snap.Queue))).
				Value(&ok)
			if err := confirm.Run(); err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := database.Import(cmd.Context(), snap); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Imported %d punches, %d queue items, %d zones",
			len(snap.Punches), len(snap.Queue), len(snap.Geofences))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	importCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")
}
