package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/marcus/punch/internal/db"
	"github.com/marcus/punch/internal/geo"
	"github.com/marcus/punch/internal/models"
	"github.com/marcus/punch/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var zonesCmd = &cobra.Command{
	Use:     "zones",
	Aliases: []string{"geofences"},
	Short:   "Manage cached authorization zones",
	GroupID: "data",
}

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached zones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		activeOnly, _ := cmd.Flags().GetBool("active")

		database, err := openStore()
		if err != nil {
			return report(jsonOut, err)
		}
		defer database.Close()

		fences, err := database.ListGeofences(cmd.Context(), activeOnly)
		if err != nil {
			return report(jsonOut, err)
		}
		if jsonOut {
			return output.JSON(fences)
		}
		if len(fences) == 0 {
			fmt.Println("No zones cached; run 'punch sync' or 'punch zones import'")
			return nil
		}
		for i := range fences {
			fmt.Println(output.FormatGeofence(&fences[i]))
		}
		return nil
	},
}

var zonesAddCircleCmd = &cobra.Command{
	Use:   "add-circle",
	Short: "Add or replace a circular zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		radius, _ := cmd.Flags().GetFloat64("radius")

		g := zoneFromFlags(cmd, models.GeofenceCircle)
		g.Center = geo.Point{Lat: lat, Lon: lon}
		g.RadiusMeters = radius
		return saveZone(cmd, g)
	},
}

var zonesAddPolygonCmd = &cobra.Command{
	Use:   "add-polygon",
	Short: "Add or replace a polygon zone",
	Example: `  punch zones add-polygon --id yard --name "Yard" \
    --vertex 40.0,-74.0 --vertex 40.0,-73.9 --vertex 40.1,-73.9`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vertices := cmd.Flags().Lookup("vertex").Value.(*pointList)

		g := zoneFromFlags(cmd, models.GeofencePolygon)
		g.Vertices = append([]geo.Point(nil), (*vertices)...)
		return saveZone(cmd, g)
	},
}

var zonesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Add or replace zones from a YAML file",
	Long: `Reads a YAML list of zones and saves each one, queueing the change for the
server. Example file:

  - id: hq
    name: Head office
    kind: circle
    center: {lat: 40.7128, lon: -74.0060}
    radius_meters: 150
    active: true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fences, err := parseZonesYAML(data)
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

		ctx := cmd.Context()
		var created, updated int
		for i := range fences {
			action := models.ActionCreate
			if _, err := database.GetGeofence(ctx, fences[i].ID); err == nil {
				action = models.ActionUpdate
			} else if !errors.Is(err, db.ErrNotFound) {
				output.Error("%v", err)
				return err
			}
			if _, err := database.SaveGeofenceWithMutation(ctx, &fences[i], action); err != nil {
				output.Error("zone %s: %v", fences[i].ID, err)
				return err
			}
			if action == models.ActionCreate {
				created++
			} else {
				updated++
			}
		}
		output.Success("Imported %d zone(s): %d new, %d updated", len(fences), created, updated)
		return nil
	},
}

var zonesRemoveCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Remove zones and queue the deletion",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openStore()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		for _, id := range args {
			if _, err := database.DeleteGeofenceWithMutation(cmd.Context(), id); err != nil {
				output.Error("%s: %v", id, err)
				return err
			}
			output.Success("Removed zone %s", id)
		}
		return nil
	},
}

func zoneFromFlags(cmd *cobra.Command, kind models.GeofenceKind) *models.Geofence {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	inactive, _ := cmd.Flags().GetBool("inactive")
	if name == "" {
		name = id
	}
	return &models.Geofence{ID: id, Name: name, Kind: kind, Active: !inactive}
}

// saveZone stores g as a create or update depending on whether it is cached
func saveZone(cmd *cobra.Command, g *models.Geofence) error {
	if err := g.Validate(); err != nil {
		output.Error("invalid zone: %v", err)
		return err
	}
	database, err := openStore()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	action := models.ActionCreate
	if _, err := database.GetGeofence(ctx, g.ID); err == nil {
		action = models.ActionUpdate
	}
	if _, err := database.SaveGeofenceWithMutation(ctx, g, action); err != nil {
		output.Error("%v", err)
		return err
	}
	output.Success("Saved zone %s (%s)", g.ID, action)
	return nil
}

// parsePoint reads "lat,lon"
func parsePoint(s string) (geo.Point, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("point %q: want lat,lon", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	p := geo.Point{Lat: la, Lon: lo}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("point %q out of range", s)
	}
	return p, nil
}

// pointList is a repeatable lat,lon flag
type pointList []geo.Point

var _ pflag.Value = (*pointList)(nil)

func (l *pointList) String() string {
	parts := make([]string, len(*l))
	for i, p := range *l {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (l *pointList) Set(s string) error {
	p, err := parsePoint(s)
	if err != nil {
		return err
	}
	*l = append(*l, p)
	return nil
}

func (l *pointList) Type() string { return "lat,lon" }

// parseZonesYAML decodes and validates a zone list. Zones without an explicit
// active key are active.
func parseZonesYAML(data []byte) ([]models.Geofence, error) {
	var raw []yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	fences := make([]models.Geofence, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i := range raw {
		g := models.Geofence{Active: true}
		if err := raw[i].Decode(&g); err != nil {
			return nil, fmt.Errorf("zone %d: %w", i+1, err)
		}
		if g.Name == "" {
			g.Name = g.ID
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("zone %d (%s): %w", i+1, g.ID, err)
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("zone %d: duplicate id %q", i+1, g.ID)
		}
		seen[g.ID] = true
		fences = append(fences, g)
	}
	return fences, nil
}

func init() {
	rootCmd.AddCommand(zonesCmd)
	zonesCmd.AddCommand(zonesListCmd, zonesAddCircleCmd, zonesAddPolygonCmd, zonesImportCmd, zonesRemoveCmd)

	zonesListCmd.Flags().Bool("json", false, "Output as JSON")
	zonesListCmd.Flags().Bool("active", false, "Only active zones")

	for _, c := range []*cobra.Command{zonesAddCircleCmd, zonesAddPolygonCmd} {
		c.Flags().String("id", "", "Zone id")
		c.Flags().String("name", "", "Display name (defaults to the id)")
		c.Flags().Bool("inactive", false, "Store the zone as inactive")
		_ = c.MarkFlagRequired("id")
	}

	zonesAddCircleCmd.Flags().Float64("lat", 0, "Center latitude")
	zonesAddCircleCmd.Flags().Float64("lon", 0, "Center longitude")
	zonesAddCircleCmd.Flags().Float64("radius", 0, "Radius in meters")
	_ = zonesAddCircleCmd.MarkFlagRequired("lat")
	_ = zonesAddCircleCmd.MarkFlagRequired("lon")
	_ = zonesAddCircleCmd.MarkFlagRequired("radius")

	zonesAddPolygonCmd.Flags().Var(&pointList{}, "vertex", "Vertex as lat,lon (repeat, at least 3)")
	_ = zonesAddPolygonCmd.MarkFlagRequired("vertex")
}
