// Package platform classifies the host environment once per process.
//
// The result is injected into the state machine at startup and never
// re-queried. Classification is best effort and has no failure modes:
// unrecognized operating systems fall through to the silent-vault branch so
// nothing ever blocks on an OS consent prompt.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Info describes the host. It is immutable after detection.
type Info struct {
	IsMacOS   bool `json:"is_macos"`
	IsWindows bool `json:"is_windows"`
	// HasIPhone is a hint that an iPhone has been synced with this machine.
	// It must never stand in for the user's declared phone type.
	HasIPhone bool `json:"has_iphone"`
}

// UsesSilentVault reports whether secure storage can be initialized without
// user interaction (DPAPI and unknown platforms).
func (i Info) UsesSilentVault() bool {
	return !i.IsMacOS
}

// VaultName returns the OS credential vault backing secure storage.
func (i Info) VaultName() string {
	if i.IsMacOS {
		return "keychain"
	}
	return "dpapi"
}

// Name returns a short label for logs and banners.
func (i Info) Name() string {
	switch {
	case i.IsMacOS:
		return "macos"
	case i.IsWindows:
		return "windows"
	default:
		return "other"
	}
}

// Signals are the raw inputs to Detect.
type Signals struct {
	GOOS     string
	Override string // "macos"/"darwin" or "windows"; wins over GOOS
	HomeDir  string
	// Stat reports whether a path exists. Defaults to os.Stat.
	Stat func(path string) bool
}

// Detect classifies the host from sig.
func Detect(sig Signals) Info {
	goos := strings.ToLower(strings.TrimSpace(sig.Override))
	if goos == "" {
		goos = sig.GOOS
	}

	var info Info
	switch goos {
	case "darwin", "macos", "mac":
		info.IsMacOS = true
	case "windows", "win":
		info.IsWindows = true
	}

	exists := sig.Stat
	if exists == nil {
		exists = pathExists
	}
	for _, p := range iphoneMarkers(info, sig.HomeDir) {
		if exists(p) {
			info.HasIPhone = true
			break
		}
	}
	return info
}

// iphoneMarkers lists directories created by iPhone sync tooling.
func iphoneMarkers(info Info, home string) []string {
	switch {
	case info.IsMacOS:
		if home == "" {
			return nil
		}
		return []string{filepath.Join(home, "Library", "Application Support", "MobileSync", "Backup")}
	case info.IsWindows:
		markers := []string{
			`C:\Program Files\Common Files\Apple\Mobile Device Support`,
		}
		if home != "" {
			markers = append(markers,
				filepath.Join(home, "Apple", "MobileSync", "Backup"),
				filepath.Join(home, "AppData", "Roaming", "Apple Computer", "MobileSync", "Backup"),
			)
		}
		return markers
	default:
		return nil
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var (
	once    sync.Once
	current Info
)

// Current detects the running host on first call and caches the result for
// the process lifetime. override is only honoured on the first call.
func Current(override string) Info {
	once.Do(func() {
		home, _ := os.UserHomeDir()
		current = Detect(Signals{
			GOOS:     runtime.GOOS,
			Override: override,
			HomeDir:  home,
		})
	})
	return current
}
