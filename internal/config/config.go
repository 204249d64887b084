// Package config defines the appboot configuration model and default values.
//
// Configuration is assembled from multiple sources with a strict precedence
// chain: built-in defaults < global config file < project config file <
// explicit config file < CLI flag overrides.
package config

import (
	"path/filepath"
	"time"
)

// WhitelistedVars lists every configuration variable name that may appear in
// config files. Variables not in this list are silently ignored during loading.
var WhitelistedVars = [14]string{
	"STATE_DIR",
	"DB_PATH",
	"PROFILE_URL",
	"PROFILE_TIMEOUT",
	"PROFILE_ADDR",
	"SESSION_SECRET",
	"PLATFORM",
	"AUTO_CONSENT",
	"LOAD_TIMEOUT",
	"PERSIST_RETRIES",
	"PERSIST_TIMEOUT",
	"LOG_FILE",
	"VERBOSE",
	"HOME_DIR",
}

// Config holds every configuration field for the appboot CLI.
type Config struct {
	// Local storage.
	StateDir string
	DBPath   string

	// Remote profile service. An empty URL keeps profiles local.
	ProfileURL     string
	ProfileTimeout int
	ProfileAddr    string
	SessionSecret  string

	// Platform detection override: "macos", "windows" or "" to detect.
	Platform string
	// HomeDir overrides the directory probed for permissions and devices.
	HomeDir string
	// AutoConsent opens the keychain without asking.
	AutoConsent bool

	// Timeouts in seconds. Zero disables the bound.
	LoadTimeout    int
	PersistTimeout int
	PersistRetries int

	// Logging.
	LogFile string
	Verbose bool

	// CLI-only flags (not loaded from config files).
	ConfigFile string
}

// NewDefaultConfig returns a Config populated with all built-in default values.
func NewDefaultConfig() *Config {
	return &Config{
		StateDir:       ".appboot",
		ProfileTimeout: 10,
		ProfileAddr:    "127.0.0.1:8787",
		SessionSecret:  "appboot-dev-secret",
		LoadTimeout:    30,
		PersistTimeout: 10,
		PersistRetries: 3,
	}
}

// DatabasePath returns DBPath, defaulting to a file in StateDir.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.StateDir, "appboot.db")
}

// Seconds converts a seconds field to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
