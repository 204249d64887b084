// Package cli provides help text and usage formatting for the appboot CLI.
package cli

import (
	"github.com/spf13/cobra"
)

const helpTemplate = `appboot - Magic Audit launcher: secure storage, session and setup wizard

USAGE
  appboot [command] [flags]

COMMANDS
  run                          Load storage, session and profile, then report the state (default)
  status                       Show the last recorded launch state
  login --user <id>            Sign in by issuing a local session token
  login --token <jwt>          Sign in with a token issued by the backend
  logout                       Forget the stored session
  complete-step <step>         Finish a setup step (--phone iphone|android for phone-type)
  grant-permissions            Re-check OS permissions (--restart to quit and reopen)
  profile-server               Serve the development profile service

FLAGS
  Storage:
    --state-dir <dir>                      Vault, database and launch state (default: .appboot)
    --db-path <path>                       Local database (default: <state-dir>/appboot.db)
    --config <path>                        Additional config file, KEY=VALUE or .yaml

  Profile service:
    --profile-url <url>                    Profile service base URL (default: local only)
    --profile-timeout <secs>               Request timeout (default: 10)
    --profile-addr <addr>                  Dev server listen address (default: 127.0.0.1:8787)
    --session-secret <secret>              HMAC secret for locally issued tokens

  Platform:
    --platform <macos|windows|other>       Force platform detection
    --home-dir <dir>                       Home directory probed for permissions and devices
    --auto-consent                         Open the keychain without asking

  Timeouts:
    --load-timeout <secs>                  Per loading step (default: 30, 0 disables)
    --persist-retries <int>                Retries for progress writes (default: 3)
    --persist-timeout <secs>               Per progress write (default: 10, 0 disables)

  Logging:
    --log-file <path>                      Also write JSON logs to this file
    -v, --verbose                          Show debug output

  Help & Version:
    -h, --help                             Show this help text
    --version                              Show version, commit, build date

SETUP STEPS
  phone-type, secure-storage (macOS), permissions (macOS), apple-driver (Windows + iPhone), email-connect

EXIT CODES
  0   Success              Ready, setup complete
  1   Error                Invalid arguments or a loading step failed
  2   Unauthenticated      No stored session
  3   OnboardingPending    Setup wizard not finished
  4   InitFailed           Secure storage could not be opened
  5   AwaitingConsent      Keychain access needs your go-ahead
  6   RestartRequired      Reopen after granting permissions
  130 Interrupted          SIGINT or SIGTERM received

EXAMPLES
  # First launch on macOS without a prompt
  appboot --auto-consent

  # Sign in and walk through setup
  appboot login --user u-123
  appboot complete-step phone-type --phone iphone

  # Check where the last launch stopped
  appboot status
`

// SetCustomHelp configures the cobra command to use our custom help template.
func SetCustomHelp(cmd *cobra.Command) {
	cmd.SetHelpTemplate(helpTemplate)
}
