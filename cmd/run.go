package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/punch/internal/connectivity"
	"github.com/marcus/punch/internal/output"
	"github.com/marcus/punch/internal/syncconfig"
	"github.com/marcus/punch/internal/tui/monitor"
	"github.com/spf13/cobra"
)

// startBackground wires a connectivity watcher and the auto-sync loop onto
// the stack. Both stop when ctx is cancelled or the stack is closed.
func startBackground(ctx context.Context, stack *syncStack) {
	go stack.mon.Watch(ctx, stack.client.Ping, syncconfig.GetProbeInterval())
	stack.engine.Start(ctx)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync loop until interrupted",
	Long: `Watches server reachability and syncs every interval while online and
auto-sync is enabled. Coming back online triggers an immediate pass.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stack, err := openSyncStack(ctx, false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer stack.Close()

		if !stack.engine.AutoSyncEnabled() {
			output.Warning("auto-sync is off; only connectivity is tracked ('punch autosync on' to enable)")
		}

		unsub := stack.mon.Subscribe(func(ev connectivity.Event) {
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), ev)
		})
		defer unsub()

		startBackground(ctx, stack)
		fmt.Printf("Syncing with %s every %s (Ctrl-C to stop)\n",
			stack.client.BaseURL, syncconfig.GetAutoSyncInterval())

		<-ctx.Done()
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"tui"},
	Short:   "Live view of the queue, punches and sync activity",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// The TUI owns the terminal; keep log lines out of it.
		slog.SetDefault(slog.New(newLogHandler(io.Discard, "error", "text")))

		stack, err := openSyncStack(ctx, false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer stack.Close()

		startBackground(ctx, stack)

		p := tea.NewProgram(monitor.NewModel(stack.engine, stack.db, interval), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
}
