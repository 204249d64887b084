package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CodexForgeBR/appboot/internal/cli"
	"github.com/CodexForgeBR/appboot/internal/config"
	"github.com/CodexForgeBR/appboot/internal/exitcode"
)

// version vars injected via ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	rootCmd := &cobra.Command{
		Use:     "appboot",
		Short:   "Magic Audit launcher",
		Long:    "appboot opens secure storage, restores the session and resumes the setup wizard where the user left off.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exit(runLaunch(cmd, cfg))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Bind all CLI flags to the config
	cli.BindFlags(rootCmd, cfg)

	// Set custom help template
	cli.SetCustomHelp(rootCmd)

	rootCmd.AddCommand(
		newRunCmd(cfg),
		newStatusCmd(cfg),
		newLoginCmd(cfg),
		newLogoutCmd(cfg),
		newCompleteStepCmd(cfg),
		newGrantPermissionsCmd(cfg),
		newProfileServerCmd(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcode.Error)
	}
}

// exit terminates the process with code once the command's deferred
// cleanup has run. A zero code returns normally.
func exit(code int, err error) error {
	if err != nil {
		return err
	}
	if code != exitcode.Success {
		os.Exit(code)
	}
	return nil
}
