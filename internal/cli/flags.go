// Package cli provides flag binding and validation for the appboot CLI.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CodexForgeBR/appboot/internal/config"
)

// BindFlags registers the configuration flags as persistent flags on cmd so
// every subcommand accepts them. The flags directly modify fields in the
// provided config pointer. Call ValidateFlags after parsing.
func BindFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.PersistentFlags()

	// Storage
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory for the vault, database and launch state")
	flags.StringVar(&cfg.DBPath, "db-path", "", "Path to the local database (default: <state-dir>/appboot.db)")
	flags.StringVar(&cfg.ConfigFile, "config", "", "Path to additional config file (KEY=VALUE or .yaml)")

	// Profile service
	flags.StringVar(&cfg.ProfileURL, "profile-url", "", "Base URL of the profile service (empty keeps profiles local)")
	flags.IntVar(&cfg.ProfileTimeout, "profile-timeout", cfg.ProfileTimeout, "Seconds before a profile request times out")
	flags.StringVar(&cfg.ProfileAddr, "profile-addr", cfg.ProfileAddr, "Listen address of the development profile server")
	flags.StringVar(&cfg.SessionSecret, "session-secret", cfg.SessionSecret, "HMAC secret for locally issued session tokens")

	// Platform
	flags.StringVar(&cfg.Platform, "platform", "", "Force platform detection: macos, windows or other")
	flags.StringVar(&cfg.HomeDir, "home-dir", "", "Home directory probed for permissions and devices")
	flags.BoolVar(&cfg.AutoConsent, "auto-consent", false, "Open the keychain without asking")

	// Timeouts
	flags.IntVar(&cfg.LoadTimeout, "load-timeout", cfg.LoadTimeout, "Seconds each loading step may take (0 disables)")
	flags.IntVar(&cfg.PersistRetries, "persist-retries", cfg.PersistRetries, "Retries for progress writes")
	flags.IntVar(&cfg.PersistTimeout, "persist-timeout", cfg.PersistTimeout, "Seconds each progress write may take (0 disables)")

	// Logging
	flags.StringVar(&cfg.LogFile, "log-file", "", "Also write JSON logs to this file")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Show debug output")
}

// ValidateFlags checks flag values after parsing.
func ValidateFlags(cmd *cobra.Command, cfg *config.Config) error {
	// --config must exist if provided
	if cfg.ConfigFile != "" {
		if _, err := os.Stat(cfg.ConfigFile); err != nil {
			return fmt.Errorf("--config: %w", err)
		}
	}

	switch cfg.Platform {
	case "", "macos", "windows", "other":
	default:
		return fmt.Errorf("--platform must be 'macos', 'windows' or 'other', got: %s", cfg.Platform)
	}

	for name, v := range map[string]int{
		"profile-timeout": cfg.ProfileTimeout,
		"load-timeout":    cfg.LoadTimeout,
		"persist-retries": cfg.PersistRetries,
		"persist-timeout": cfg.PersistTimeout,
	} {
		if cmd.Flags().Changed(name) && v < 0 {
			return fmt.Errorf("--%s must not be negative, got: %d", name, v)
		}
	}

	return nil
}

// BuildOverrides creates a map of CLI flag overrides from the config.
// Uses cmd.Flags().Changed() to only include flags explicitly set by the user,
// ensuring config file values are not accidentally overridden by default values.
func BuildOverrides(cmd *cobra.Command, cfg *config.Config) map[string]string {
	overrides := make(map[string]string)

	stringFlags := map[string]struct {
		key string
		val string
	}{
		"state-dir":      {"STATE_DIR", cfg.StateDir},
		"db-path":        {"DB_PATH", cfg.DBPath},
		"profile-url":    {"PROFILE_URL", cfg.ProfileURL},
		"profile-addr":   {"PROFILE_ADDR", cfg.ProfileAddr},
		"session-secret": {"SESSION_SECRET", cfg.SessionSecret},
		"platform":       {"PLATFORM", cfg.Platform},
		"home-dir":       {"HOME_DIR", cfg.HomeDir},
		"log-file":       {"LOG_FILE", cfg.LogFile},
	}
	for flag, mapping := range stringFlags {
		if cmd.Flags().Changed(flag) {
			overrides[mapping.key] = mapping.val
		}
	}

	intFlags := map[string]struct {
		key string
		val int
	}{
		"profile-timeout": {"PROFILE_TIMEOUT", cfg.ProfileTimeout},
		"load-timeout":    {"LOAD_TIMEOUT", cfg.LoadTimeout},
		"persist-retries": {"PERSIST_RETRIES", cfg.PersistRetries},
		"persist-timeout": {"PERSIST_TIMEOUT", cfg.PersistTimeout},
	}
	for flag, mapping := range intFlags {
		if cmd.Flags().Changed(flag) {
			overrides[mapping.key] = strconv.Itoa(mapping.val)
		}
	}

	boolFlags := map[string]struct {
		key string
		val bool
	}{
		"verbose":      {"VERBOSE", cfg.Verbose},
		"auto-consent": {"AUTO_CONSENT", cfg.AutoConsent},
	}
	for flag, mapping := range boolFlags {
		if cmd.Flags().Changed(flag) {
			overrides[mapping.key] = strconv.FormatBool(mapping.val)
		}
	}

	return overrides
}

// Resolve loads the final config: the global file in the user config dir,
// the project file in the working directory, the --config file, then flags.
func Resolve(cmd *cobra.Command, cfg *config.Config) (*config.Config, error) {
	if err := ValidateFlags(cmd, cfg); err != nil {
		return nil, err
	}

	global := ""
	if dir, err := os.UserConfigDir(); err == nil {
		global = filepath.Join(dir, "appboot", "config")
	}

	final, err := config.LoadWithPrecedence(global, ".appboot.yaml", cfg.ConfigFile, BuildOverrides(cmd, cfg))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	final.ConfigFile = cfg.ConfigFile
	return final, nil
}
