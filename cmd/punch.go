package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/punch/internal/config"
	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/features"
	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/output"
	"github.com/marcus/punch/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var punchLabels = map[models.PunchType]string{
	models.PunchClockIn:    "Clock in",
	models.PunchClockOut:   "Clock out",
	models.PunchBreakStart: "Start break",
	models.PunchBreakEnd:   "End break",
}

// parsePunchType accepts the canonical names and the short command names
func parsePunchType(s string) (models.PunchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "clock_in", "clock-in":
		return models.PunchClockIn, nil
	case "out", "clock_out", "clock-out":
		return models.PunchClockOut, nil
	case "break", "break_start", "break-start":
		return models.PunchBreakStart, nil
	case "resume", "break_end", "break-end":
		return models.PunchBreakEnd, nil
	}
	return "", fmt.Errorf("unknown punch type %q (want in, out, break or resume)", s)
}

// punchCoordinates reads --lat/--lon, falling back to the configured default
// location. Returns nil when neither is available.
func punchCoordinates(cmd *cobra.Command) (*geo.Point, error) {
	latSet := cmd.Flags().Changed("lat")
	lonSet := cmd.Flags().Changed("lon")
	if latSet != lonSet {
		return nil, errors.New("--lat and --lon must be given together")
	}
	if latSet {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		return &geo.Point{Lat: lat, Lon: lon}, nil
	}
	return config.GetDefaultLocation(getBaseDir())
}

// punchUser resolves the user from --user, then PUNCH_USER, then config
func punchUser(cmd *cobra.Command) (string, error) {
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		return u, nil
	}
	u, err := config.GetUserID(getBaseDir())
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", errors.New("no user configured: run 'punch init --user <id>' or set PUNCH_USER")
	}
	return u, nil
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) &&
		features.IsEnabled(getBaseDir(), features.InteractivePrompt.Name)
}

// pickPunchType asks which of the allowed punches to record
func pickPunchType(allowed []models.PunchType) (models.PunchType, error) {
	opts := make([]huh.Option[string], 0, len(allowed))
	for _, t := range allowed {
		opts = append(opts, huh.NewOption(punchLabels[t], string(t)))
	}
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Punch").
			Options(opts...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return models.PunchType(choice), nil
}

func runPunch(cmd *cobra.Command, typ models.PunchType) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	database, err := openStore()
	if err != nil {
		return report(jsonOut, err)
	}
	defer database.Close()

	userID, err := punchUser(cmd)
	if err != nil {
		return report(jsonOut, err)
	}
	svc := newSessionService(database)

	if typ == "" {
		current, err := svc.Current(ctx, userID)
		if err != nil {
			return report(jsonOut, err)
		}
		if !interactive() {
			return report(jsonOut, fmt.Errorf("punch type required; allowed while %s: %v", current, session.Allowed(current)))
		}
		if typ, err = pickPunchType(session.Allowed(current)); err != nil {
			return report(jsonOut, err)
		}
	}

	coords, err := punchCoordinates(cmd)
	if err != nil {
		return report(jsonOut, err)
	}
	notes, _ := cmd.Flags().GetString("notes")

	res, err := svc.Submit(ctx, session.Request{
		UserID:      userID,
		Type:        typ,
		Coordinates: coords,
		Notes:       notes,
	})
	if err != nil {
		return report(jsonOut, err)
	}

	if jsonOut {
		output.JSON(map[string]any{
			"punch":         res.Punch,
			"state":         res.State,
			"queue_item_id": res.QueueItemID,
			"matched_zones": res.Validation.MatchedZoneIDs,
		})
	} else {
		output.Success("%s recorded at %s", punchLabels[typ], res.Punch.Timestamp.Local().Format("15:04:05"))
		fmt.Printf("State: %s\n", output.StateBadge(res.State))
		if res.Punch.GeofenceID != "" {
			fmt.Printf("Zone:  %s\n", res.Punch.GeofenceID)
		}
	}

	syncAfterPunch(ctx, database)
	return nil
}

func newPunchCommand(use, short string, typ models.PunchType, aliases ...string) *cobra.Command {
	c := &cobra.Command{
		Use:     use,
		Short:   short,
		Aliases: aliases,
		GroupID: "punch",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPunch(cmd, typ)
		},
	}
	addPunchFlags(c)
	return c
}

var recordCmd = &cobra.Command{
	Use:   "record [in|out|break|resume]",
	Short: "Record a punch, prompting for the type when omitted",
	Long: `Records a punch. Without a type argument on an interactive terminal, offers
the punches valid in the current state.`,
	GroupID: "punch",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var typ models.PunchType
		if len(args) == 1 {
			var err error
			if typ, err = parsePunchType(args[0]); err != nil {
				jsonOut, _ := cmd.Flags().GetBool("json")
				return report(jsonOut, err)
			}
		}
		return runPunch(cmd, typ)
	},
}

var stateCmd = &cobra.Command{
	Use:     "state",
	Short:   "Show whether you are clocked in, out or on break",
	GroupID: "punch",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		userID, err := punchUser(cmd)
		if err != nil {
			return report(jsonOut, err)
		}
		return printState(cmd.Context(), database, userID, jsonOut)
	},
}

func printState(ctx context.Context, database *db.DB, userID string, jsonOut bool) error {
	svc := newSessionService(database)
	state, err := svc.Current(ctx, userID)
	if err != nil {
		return report(jsonOut, err)
	}
	latest, err := database.LatestPunch(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return report(jsonOut, err)
	}

	if jsonOut {
		return output.JSON(map[string]any{
			"user":    userID,
			"state":   state,
			"allowed": session.Allowed(state),
			"latest":  latest,
		})
	}
	fmt.Printf("%s  %s\n", userID, output.StateBadge(state))
	if latest != nil {
		fmt.Printf("Last: %s\n", output.FormatPunchShort(latest))
	}
	return nil
}

func addPunchFlags(c *cobra.Command) {
	c.Flags().Float64("lat", 0, "Latitude of the punch")
	c.Flags().Float64("lon", 0, "Longitude of the punch")
	c.Flags().String("notes", "", "Free-form note stored with the punch")
	c.Flags().String("user", "", "User id (defaults to the configured user)")
	c.Flags().Bool("json", false, "Output as JSON")
}

func init() {
	rootCmd.AddCommand(
		newPunchCommand("in", "Clock in", models.PunchClockIn, "clock-in"),
		newPunchCommand("out", "Clock out", models.PunchClockOut, "clock-out"),
		newPunchCommand("break", "Start a break", models.PunchBreakStart),
		newPunchCommand("resume", "End a break", models.PunchBreakEnd),
		recordCmd,
		stateCmd,
	)
	addPunchFlags(recordCmd)
	stateCmd.Flags().String("user", "", "User id (defaults to the configured user)")
	stateCmd.Flags().Bool("json", false, "Output as JSON")
}
