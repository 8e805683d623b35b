package features

// GateMapEntry records a concrete surface that a feature flag gates.
type GateMapEntry struct {
	Feature string
	Surface string
	Notes   string
}

// GateMap lists every surface whose behavior changes with a feature flag.
// `punch config features` prints it so operators can see what a flag touches.
var GateMap = []GateMapEntry{
	{
		Feature: LocationEnforcement.Name,
		Surface: "cmd/punch.go",
		Notes:   "Geofence guard in front of every punch",
	},
	{
		Feature: ReferenceDownload.Name,
		Surface: "cmd/sync.go",
		Notes:   "Users, geofences and departments refresh during sync",
	},
	{
		Feature: ReferenceDownload.Name,
		Surface: "cmd/run.go",
		Notes:   "Reference refresh on every auto-sync pass",
	},
	{
		Feature: InteractivePrompt.Name,
		Surface: "cmd/punch.go#pickPunchType",
		Notes:   "huh picker when the punch type is omitted on a TTY",
	},
}

// SurfacesFor returns the gate map entries for one feature.
func SurfacesFor(name string) []GateMapEntry {
	name = canonical(name)
	var out []GateMapEntry
	for _, e := range GateMap {
		if e.Feature == name {
			out = append(out, e)
		}
	}
	return out
}
