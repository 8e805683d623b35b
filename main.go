package main

import (
	"github.com/marcus/punch/cmd"
	"github.com/marcus/punch/internal/version"
)

// Version is injected at release time with -ldflags "-X main.Version=v1.2.3"
var Version = "dev"

func main() {
	cmd.SetVersion(version.Effective(Version))
	cmd.Execute()
}
