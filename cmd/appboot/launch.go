package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/CodexForgeBR/appboot/internal/app"
	"github.com/CodexForgeBR/appboot/internal/banner"
	"github.com/CodexForgeBR/appboot/internal/cli"
	"github.com/CodexForgeBR/appboot/internal/config"
	"github.com/CodexForgeBR/appboot/internal/exitcode"
	"github.com/CodexForgeBR/appboot/internal/logging"
	"github.com/CodexForgeBR/appboot/internal/machine"
	sighandler "github.com/CodexForgeBR/appboot/internal/signal"
)

// session is the shared setup for every command that runs the pipeline.
type session struct {
	cfg  *config.Config
	intr *sighandler.Interrupt
	rt   *app.Runtime

	closeLog func()
}

// open resolves the config, installs logging and the signal handler, and
// starts a runtime. Callers must call close.
func open(cmd *cobra.Command, flagCfg *config.Config, showBanner bool) (*session, error) {
	cfg, err := cli.Resolve(cmd, flagCfg)
	if err != nil {
		return nil, err
	}

	logging.SetVerbose(cfg.Verbose)
	closeLog, err := logging.SetFile(cfg.LogFile)
	if err != nil {
		return nil, err
	}

	p := app.DetectPlatform(cfg)
	if showBanner {
		banner.PrintStartupBanner(version, p, cfg.StateDir)
	}

	intr := sighandler.Watch(context.Background(), func() {
		logging.Warn("Interrupted, finishing pending writes...")
	})

	rt := app.NewRuntime(cfg, p)
	rt.Start(intr.Context())
	return &session{cfg: cfg, intr: intr, rt: rt, closeLog: closeLog}, nil
}

func (s *session) ctx() context.Context { return s.intr.Context() }

// settle waits for the pipeline, asking for keychain consent and offering
// retries when a terminal is attached.
func (s *session) settle() (machine.State, error) {
	for {
		st, err := s.rt.Settle(s.ctx())
		if err != nil {
			return st, err
		}

		switch v := st.(type) {
		case *machine.Loading:
			if !app.AwaitingConsent(v) {
				return st, nil
			}
			if !s.cfg.AutoConsent && !confirm(fmt.Sprintf("Allow appboot to use the %s? [y/N] ", v.Platform.VaultName())) {
				return st, nil
			}
			s.rt.Orchestrator.Consent()

		case *machine.Error:
			if !v.Recoverable {
				return st, nil
			}
			banner.PrintStateBanner(v)
			if !confirm("Retry now? [y/N] ") {
				return st, nil
			}
			s.rt.Store.Dispatch(machine.Retry{})

		default:
			return st, nil
		}
	}
}

// code maps st to the process exit code, reporting interruption first.
func (s *session) code(st machine.State) int {
	if s.intr.Interrupted() {
		return exitcode.Interrupted
	}
	return exitcode.ForState(st)
}

func (s *session) close() {
	if err := s.rt.Close(); err != nil {
		logging.Warn(fmt.Sprintf("Failed to close local database: %v", err))
	}
	s.intr.Stop()
	s.closeLog()
}

// confirm asks a yes/no question on an interactive terminal. Without one
// the answer is no.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Print(question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func runLaunch(cmd *cobra.Command, flagCfg *config.Config) (int, error) {
	s, err := open(cmd, flagCfg, true)
	if err != nil {
		return exitcode.Error, err
	}
	defer s.close()

	st, err := s.settle()
	if err != nil && !s.intr.Interrupted() {
		return exitcode.Error, err
	}
	banner.PrintStateBanner(st)
	return s.code(st), nil
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load storage, session and profile, then report the state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return exit(runLaunch(cmd, cfg))
		},
	}
}
