package state

// LaunchState is process-local data that must survive a restart but lives
// outside the state machine. Written to <state dir>/launch-state.json.
type LaunchState struct {
	SchemaVersion int    `json:"schema_version"`
	LastUpdated   string `json:"last_updated"`
	// PendingPermissionRestart is set right before the app quits so the user
	// can grant full disk access; the next launch re-verifies instead of
	// prompting again.
	PendingPermissionRestart bool   `json:"pending_permission_restart"`
	RestartRequestedAt       string `json:"restart_requested_at,omitempty"`
	// LastUserID and LastStep mirror the most recent onboarding progress
	// for the status command.
	LastUserID string `json:"last_user_id,omitempty"`
	LastStep   string `json:"last_step,omitempty"`
	LastState  string `json:"last_state,omitempty"`
}

// CurrentSchemaVersion is written by SaveState.
const CurrentSchemaVersion = 1
