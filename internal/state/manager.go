// Package state persists the small launch-state file kept next to the local
// database.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "launch-state.json"

// fileMu serializes read-modify-write cycles within the process.
var fileMu sync.Mutex

// SaveState persists the launch state as indented JSON.
func SaveState(s *LaunchState, dir string) error {
	s.SchemaVersion = CurrentSchemaVersion
	s.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a torn file.
	path := filepath.Join(dir, stateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadState reads the launch state. A missing file yields the zero state.
func LoadState(dir string) (*LaunchState, error) {
	path := filepath.Join(dir, stateFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &LaunchState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s LaunchState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &s, nil
}

// Update loads the state, applies fn and saves the result.
func Update(dir string, fn func(s *LaunchState)) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	s, err := LoadState(dir)
	if err != nil {
		return err
	}
	fn(s)
	return SaveState(s, dir)
}

// MarkPermissionRestart records that the app is about to quit so the OS
// permission grant takes effect.
func MarkPermissionRestart(dir string) error {
	return Update(dir, func(s *LaunchState) {
		s.PendingPermissionRestart = true
		s.RestartRequestedAt = time.Now().UTC().Format(time.RFC3339)
	})
}

// ConsumePermissionRestart reports whether a permission restart was pending
// and clears the flag, so it returns true at most once per request.
func ConsumePermissionRestart(dir string) (bool, error) {
	var pending bool
	err := Update(dir, func(s *LaunchState) {
		pending = s.PendingPermissionRestart
		s.PendingPermissionRestart = false
		s.RestartRequestedAt = ""
	})
	if err != nil {
		return false, err
	}
	return pending, nil
}

// RecordProgress mirrors the latest machine state for the status command.
func RecordProgress(dir, userID, step, stateName string) error {
	return Update(dir, func(s *LaunchState) {
		s.LastUserID = userID
		s.LastStep = step
		s.LastState = stateName
	})
}
