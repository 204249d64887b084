package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodexForgeBR/appboot/internal/auth"
	"github.com/CodexForgeBR/appboot/internal/banner"
	"github.com/CodexForgeBR/appboot/internal/cli"
	"github.com/CodexForgeBR/appboot/internal/config"
	"github.com/CodexForgeBR/appboot/internal/exitcode"
	"github.com/CodexForgeBR/appboot/internal/logging"
	"github.com/CodexForgeBR/appboot/internal/machine"
	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/profile"
	sighandler "github.com/CodexForgeBR/appboot/internal/signal"
	"github.com/CodexForgeBR/appboot/internal/state"
)

const sessionValidity = 30 * 24 * time.Hour

func newStatusCmd(flagCfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded launch state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.Resolve(cmd, flagCfg)
			if err != nil {
				return err
			}
			ls, err := state.LoadState(cfg.StateDir)
			if err != nil {
				return err
			}
			banner.PrintStatusBanner(ls)
			return nil
		},
	}
}

func newLoginCmd(flagCfg *config.Config) *cobra.Command {
	var userID, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and resume setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userID == "") == (token == "") {
				return errors.New("exactly one of --user or --token is required")
			}
			return exit(runLogin(cmd, flagCfg, userID, token))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to issue a local session token for")
	cmd.Flags().StringVar(&token, "token", "", "Session token issued by the backend")
	return cmd
}

func runLogin(cmd *cobra.Command, flagCfg *config.Config, userID, token string) (int, error) {
	s, err := open(cmd, flagCfg, false)
	if err != nil {
		return exitcode.Error, err
	}

	st, err := s.settle()
	if err != nil {
		s.close()
		return s.code(st), err
	}

	if token == "" {
		token, err = auth.Issue([]byte(s.cfg.SessionSecret), userID, sessionValidity)
		if err != nil {
			s.close()
			return exitcode.Error, err
		}
	}
	sess, err := s.rt.Services.Login(s.ctx(), token)
	if err != nil {
		s.close()
		if machine.IsLoadingPhase(st, machine.PhaseInitializingDB) {
			banner.PrintStateBanner(st)
			return s.code(st), nil
		}
		return exitcode.Error, fmt.Errorf("login: %w", err)
	}
	logging.Success(fmt.Sprintf("Signed in as %s", sess.UserID))
	s.close()

	// Relaunch so the new session flows through the pipeline.
	return runLaunch(cmd, flagCfg)
}

func newLogoutCmd(flagCfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, flagCfg, false)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.settle()
			if err != nil {
				return err
			}
			if err := s.rt.Services.Logout(s.ctx()); err != nil {
				banner.PrintStateBanner(st)
				return fmt.Errorf("logout: %w", err)
			}
			s.rt.Store.Dispatch(machine.Logout{})
			s.rt.Bridge.Wait()
			logging.Success("Signed out")
			return nil
		},
	}
}

func newCompleteStepCmd(flagCfg *config.Config) *cobra.Command {
	var phone string

	cmd := &cobra.Command{
		Use:   "complete-step <step>",
		Short: "Finish a setup step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := model.ParseStep(args[0])
			if err != nil {
				return err
			}
			var pt model.PhoneType
			if step == model.StepPhoneType {
				if pt, err = model.ParsePhoneType(phone); err != nil {
					return fmt.Errorf("--phone: %w", err)
				}
				if pt == "" {
					return fmt.Errorf("--phone is required for %s", step)
				}
			}
			return exit(runCompleteStep(cmd, flagCfg, step, pt))
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Phone type for the phone-type step: iphone or android")
	return cmd
}

func runCompleteStep(cmd *cobra.Command, flagCfg *config.Config, step model.Step, phone model.PhoneType) (int, error) {
	s, err := open(cmd, flagCfg, false)
	if err != nil {
		return exitcode.Error, err
	}
	defer s.close()

	st, err := s.settle()
	if err != nil {
		return s.code(st), err
	}
	ob, ok := st.(*machine.Onboarding)
	if !ok {
		banner.PrintStateBanner(st)
		return s.code(st), nil
	}
	if ob.Step != step {
		logging.Warn(fmt.Sprintf("Setup is at %s, not %s", ob.Step, step))
	}

	if step == model.StepPermissions {
		// Permissions only complete once the OS reports them granted.
		s.rt.Orchestrator.RecheckPermissions()
		s.rt.Orchestrator.Wait()
	} else {
		s.rt.Store.Dispatch(machine.OnboardingStepComplete{Step: step, PhoneType: phone})
	}
	s.rt.Bridge.Wait()

	st = s.rt.Store.State()
	banner.PrintStateBanner(st)
	return s.code(st), nil
}

func newGrantPermissionsCmd(flagCfg *config.Config) *cobra.Command {
	var restart bool

	cmd := &cobra.Command{
		Use:   "grant-permissions",
		Short: "Re-check OS permissions, or quit so a grant can take effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if restart {
				cfg, err := cli.Resolve(cmd, flagCfg)
				if err != nil {
					return err
				}
				if err := state.MarkPermissionRestart(cfg.StateDir); err != nil {
					return fmt.Errorf("record permission restart: %w", err)
				}
				banner.PrintPermissionRestartBanner()
				return exit(exitcode.RestartRequired, nil)
			}
			return exit(runCompleteStep(cmd, flagCfg, model.StepPermissions, ""))
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", false, "Quit now and re-check permissions on the next launch")
	return cmd
}

func newProfileServerCmd(flagCfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "profile-server",
		Short: "Serve the development profile service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.Resolve(cmd, flagCfg)
			if err != nil {
				return err
			}
			logging.SetVerbose(cfg.Verbose)

			intr := sighandler.Watch(context.Background(), nil)
			defer intr.Stop()

			srv := &http.Server{
				Addr: cfg.ProfileAddr,
				Handler: (&profile.Server{
					Store:  profile.NewMemoryStore(),
					Secret: []byte(cfg.SessionSecret),
				}).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logging.Info(fmt.Sprintf("Profile service listening on %s", cfg.ProfileAddr))

			select {
			case err := <-errCh:
				return err
			case <-intr.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logging.Info("Profile service stopped")
			return nil
		},
	}
}
