// Package banner provides colored banner display functions for the appboot CLI.
//
// All banner functions write formatted output to stdout with color-coded headers
// and separators. They summarize where the launch pipeline stopped and what
// the user can do next.
package banner

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/CodexForgeBR/appboot/internal/logging"
	"github.com/CodexForgeBR/appboot/internal/machine"
	"github.com/CodexForgeBR/appboot/internal/onboarding"
	"github.com/CodexForgeBR/appboot/internal/platform"
	"github.com/CodexForgeBR/appboot/internal/state"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
	successColor = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorColor   = color.New(color.FgRed, color.Bold).SprintFunc()
	warnColor    = color.New(color.FgYellow, color.Bold).SprintFunc()
)

const rule = "═══════════════════════════════════════════════════"

// PrintStartupBanner displays the startup banner.
//
// Example output:
//
//	═══════════════════════════════════════════════════
//	  appboot - Magic Audit launcher
//	═══════════════════════════════════════════════════
//	  Version:    dev
//	  Platform:   macos (vault: keychain)
//	  State dir:  .appboot
//	═══════════════════════════════════════════════════
func PrintStartupBanner(version string, p platform.Info, stateDir string) {
	sep := headerColor(rule)
	fmt.Println(sep)
	fmt.Println(headerColor("  appboot - Magic Audit launcher"))
	fmt.Println(sep)
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Platform:   %s (vault: %s)\n", p.Name(), p.VaultName())
	if p.HasIPhone {
		fmt.Println("  Device:     iPhone backup data found")
	}
	fmt.Printf("  State dir:  %s\n", stateDir)
	fmt.Println(sep)
}

// PrintStateBanner summarizes the state the pipeline settled in.
func PrintStateBanner(s machine.State) {
	switch v := s.(type) {
	case *machine.Ready:
		sep := successColor(rule)
		fmt.Println(sep)
		fmt.Println(successColor("  ✓ Ready"))
		fmt.Printf("  User:       %s\n", userLabel(v.CurrentUser.ID, v.CurrentUser.Email))
		fmt.Println(sep)

	case *machine.Onboarding:
		seq := onboarding.Sequence(v.Platform, v.SelectedPhoneType)
		pos := slices.Index(seq, v.Step) + 1
		sep := warnColor(rule)
		fmt.Println(sep)
		fmt.Println(warnColor("  ⚠ Setup not finished"))
		fmt.Println(sep)
		fmt.Printf("  User:       %s\n", userLabel(v.User.ID, v.User.Email))
		fmt.Printf("  Step:       %s (%d/%d)\n", v.Step, pos, len(seq))
		if done := v.CompletedSteps.Sorted(); len(done) > 0 {
			names := make([]string, len(done))
			for i, d := range done {
				names[i] = string(d)
			}
			fmt.Printf("  Completed:  %s\n", strings.Join(names, ", "))
		}
		fmt.Printf("  Next:       appboot complete-step %s\n", v.Step)
		fmt.Println(sep)

	case *machine.Unauthenticated:
		sep := warnColor(rule)
		fmt.Println(sep)
		fmt.Println(warnColor("  ⚠ Not signed in"))
		fmt.Println("  Next:       appboot login --user <id>")
		fmt.Println(sep)

	case *machine.Error:
		sep := errorColor(rule)
		fmt.Println(sep)
		fmt.Printf(errorColor("  ✗ %s\n"), v.Code)
		fmt.Println(sep)
		fmt.Printf("  Reason:     %s\n", v.Message)
		if v.Recoverable {
			fmt.Printf("  Retry:      run appboot again to retry %s\n", v.FailedPhase)
		} else {
			fmt.Println("  Contact support to continue.")
		}
		fmt.Println(sep)

	case *machine.Loading:
		sep := headerColor(rule)
		fmt.Println(sep)
		if v.Phase == machine.PhaseInitializingDB && v.DBStatus == machine.DBIdle {
			fmt.Println(headerColor("  Secure storage needs your permission"))
			fmt.Printf("  appboot keeps your data key in the %s.\n", v.Platform.VaultName())
			fmt.Println("  Your OS may ask to allow access.")
			fmt.Println("  Next:       appboot --auto-consent")
		} else {
			fmt.Printf(headerColor("  Still loading: %s\n"), v.Phase)
		}
		fmt.Println(sep)
	}
}

// PrintPermissionRestartBanner tells the user to reopen the app after
// granting access in System Settings.
func PrintPermissionRestartBanner() {
	sep := warnColor(rule)
	fmt.Println(sep)
	fmt.Println(warnColor("  ⚠ Restart required"))
	fmt.Println("  Grant Full Disk Access in System Settings, then run appboot again.")
	fmt.Println("  Permissions are re-checked automatically on the next launch.")
	fmt.Println(sep)
}

// PrintStatusBanner displays the launch-state file.
//
// Example output:
//
//	──────────────────────────────────────────────────
//	  User:     u-123
//	  State:    onboarding{step=permissions, completed=[phone-type]}
//	  Step:     permissions
//	  Updated:  2026-01-30T15:30:45Z
//	──────────────────────────────────────────────────
func PrintStatusBanner(ls *state.LaunchState) {
	sep := strings.Repeat("─", 50)
	fmt.Println(sep)
	if ls.LastState == "" {
		fmt.Println("  No launch recorded yet.")
		fmt.Println(sep)
		return
	}
	fmt.Printf("  User:     %s\n", orDash(ls.LastUserID))
	fmt.Printf("  State:    %s\n", ls.LastState)
	fmt.Printf("  Step:     %s\n", orDash(ls.LastStep))
	fmt.Printf("  Updated:  %s\n", ls.LastUpdated)
	if ls.PendingPermissionRestart {
		fmt.Printf("  Restart:  pending since %s%s\n", ls.RestartRequestedAt, waited(ls.RestartRequestedAt))
	}
	fmt.Println(sep)
}

// waited renders how long ago the RFC3339 timestamp ts was.
func waited(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (%s ago)", logging.FormatDuration(int(time.Since(t).Seconds())))
}

func userLabel(id, email string) string {
	if email == "" {
		return id
	}
	return fmt.Sprintf("%s <%s>", id, email)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
