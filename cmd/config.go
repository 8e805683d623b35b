package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/punch/internal/config"
	"github.com/marcus/punch/internal/features"
	"github.com/marcus/punch/internal/output"
	"github.com/marcus/punch/internal/syncconfig"
	"github.com/spf13/cobra"
)

// configKeys lists the settings `punch config get/set` understands
var configKeys = []string{"user", "location", "server", "api-key"}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or change settings",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range configKeys {
			v, err := getConfigValue(k)
			if err != nil {
				output.Error("%s: %v", k, err)
				return err
			}
			fmt.Printf("%-9s %s\n", k, v)
		}
		fmt.Printf("%-9s %s\n", "device", deviceIDOrError())
		fmt.Printf("%-9s %v\n", "autosync", syncconfig.GetAutoSyncEnabled())
		fmt.Printf("%-9s %s\n", "features", featureFlagSummary(getBaseDir()))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:       "get <key>",
	Short:     "Print one setting (user, location, server, api-key)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: configKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := getConfigValue(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Change one setting",
	Long: `Keys:
  user       user id punches are recorded for (this directory)
  location   default coordinates as lat,lon; "none" clears them (this directory)
  server     gateway base URL (global)
  api-key    gateway API key (global); prompts when the value is omitted`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: configKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else if args[0] == "api-key" && interactive() {
			if err := huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&value).
				Run(); err != nil {
				return err
			}
		} else {
			err := fmt.Errorf("missing value for %s", args[0])
			output.Error("%v", err)
			return err
		}

		if err := setConfigValue(args[0], value); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("%s updated", args[0])
		return nil
	},
}

var configFeaturesCmd = &cobra.Command{
	Use:   "features",
	Short: "List feature flags, their values and what they gate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getBaseDir()
		for _, f := range features.ListAll() {
			enabled, source := features.Resolve(dir, f.Name)
			state := "off"
			if enabled {
				state = "on"
			}
			fmt.Printf("%-22s %-3s (%s)  %s\n", f.Name, state, source, f.Description)
			for _, s := range features.SurfacesFor(f.Name) {
				fmt.Printf("    %s  %s\n", s.Surface, s.Notes)
			}
		}
		return nil
	},
}

var configFeatureCmd = &cobra.Command{
	Use:   "feature <name> <on|off|unset>",
	Short: "Set or clear a feature flag for this directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, value := args[0], strings.ToLower(args[1])
		if !features.IsKnownFeature(name) {
			err := fmt.Errorf("unknown feature %q", name)
			output.Error("%v", err)
			return err
		}

		dir := getBaseDir()
		var err error
		switch value {
		case "on", "true", "1":
			err = config.SetFeatureFlag(dir, name, true)
		case "off", "false", "0":
			err = config.SetFeatureFlag(dir, name, false)
		case "unset", "default":
			err = config.UnsetFeatureFlag(dir, name)
		default:
			err = fmt.Errorf("expected on, off or unset, got %q", args[1])
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		enabled, source := features.Resolve(dir, name)
		output.Success("%s is now %v (%s)", name, enabled, source)
		return nil
	},
}

func getConfigValue(key string) (string, error) {
	dir := getBaseDir()
	switch key {
	case "user":
		return config.GetUserID(dir)
	case "location":
		p, err := config.GetDefaultLocation(dir)
		if err != nil || p == nil {
			return "", err
		}
		return p.String(), nil
	case "server":
		return syncconfig.GetServerURL(), nil
	case "api-key":
		return maskKey(syncconfig.GetAPIKey()), nil
	}
	return "", fmt.Errorf("unknown key %q (want one of %s)", key, strings.Join(configKeys, ", "))
}

func setConfigValue(key, value string) error {
	dir := getBaseDir()
	switch key {
	case "user":
		return config.SetUserID(dir, strings.TrimSpace(value))
	case "location":
		if strings.EqualFold(value, "none") {
			return config.SetDefaultLocation(dir, nil)
		}
		p, err := parsePoint(value)
		if err != nil {
			return err
		}
		return config.SetDefaultLocation(dir, &p)
	case "server":
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return err
		}
		cfg.Sync.URL = strings.TrimRight(strings.TrimSpace(value), "/")
		return syncconfig.SaveConfig(cfg)
	case "api-key":
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil {
			creds = &syncconfig.AuthCredentials{}
		}
		if value == "" {
			return syncconfig.ClearAuth()
		}
		creds.APIKey = value
		if creds.DeviceID == "" {
			if creds.DeviceID, err = syncconfig.GetDeviceID(); err != nil {
				return err
			}
		}
		return syncconfig.SaveAuth(creds)
	}
	return fmt.Errorf("unknown key %q (want one of %s)", key, strings.Join(configKeys, ", "))
}

// maskKey keeps the last four characters of an API key
func maskKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 4 {
		return strings.Repeat("*", len(k))
	}
	return strings.Repeat("*", len(k)-4) + k[len(k)-4:]
}

func deviceIDOrError() string {
	id, err := syncconfig.GetDeviceID()
	if err != nil {
		return "error: " + err.Error()
	}
	return id
}

// featureFlagSummary renders resolved flags as name=bool pairs, sorted
func featureFlagSummary(dir string) string {
	var names []string
	for _, f := range features.ListAll() {
		enabled, _ := features.Resolve(dir, f.Name)
		names = append(names, f.Name+"="+strconv.FormatBool(enabled))
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configFeaturesCmd, configFeatureCmd)
}
