package version

import "runtime/debug"

// Effective returns injected unless it is empty or "dev", in which case the
// module version from the build info is used, or "devel+<rev>[+dirty]" for a
// local build from a VCS checkout.
func Effective(injected string) string {
	if injected != "" && injected != "dev" {
		return injected
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value[:min(len(s.Value), 12)]
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	switch {
	case rev == "":
		return "dev"
	case dirty:
		return "devel+" + rev + "+dirty"
	}
	return "devel+" + rev
}
