// Package permissions probes the OS access grants the importers need.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/platform"
)

// Probe reports whether one permission is granted. An error means the
// probe itself could not run, not that access was denied.
type Probe func(ctx context.Context) (bool, error)

// Checker runs the full-disk-access and contacts probes concurrently.
type Checker struct {
	FullDiskAccess Probe
	Contacts       Probe
}

// NewChecker returns probes appropriate for p rooted at home. On Windows
// and other platforms no grant is required and both probes succeed.
func NewChecker(p platform.Info, home string) *Checker {
	if !p.IsMacOS {
		return &Checker{FullDiskAccess: granted, Contacts: granted}
	}
	return &Checker{
		FullDiskAccess: readableProbe(filepath.Join(home, "Library", "Messages", "chat.db")),
		Contacts:       readableProbe(filepath.Join(home, "Library", "Application Support", "AddressBook")),
	}
}

// CheckAll runs every probe and merges the results.
func (c *Checker) CheckAll(ctx context.Context) (model.PermissionStatus, error) {
	var status model.PermissionStatus
	var fda, contacts bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := run(gctx, c.FullDiskAccess)
		if err != nil {
			return fmt.Errorf("full disk access probe: %w", err)
		}
		fda = ok
		return nil
	})
	g.Go(func() error {
		ok, err := run(gctx, c.Contacts)
		if err != nil {
			return fmt.Errorf("contacts probe: %w", err)
		}
		contacts = ok
		return nil
	})
	if err := g.Wait(); err != nil {
		return status, err
	}

	status.FullDiskAccess = fda
	status.Contacts = contacts
	return status, nil
}

func run(ctx context.Context, p Probe) (bool, error) {
	if p == nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p(ctx)
}

func granted(context.Context) (bool, error) { return true, nil }

// readableProbe treats a permission error on path as "not granted" and a
// missing path as granted (nothing to protect).
func readableProbe(path string) Probe {
	return func(ctx context.Context) (bool, error) {
		f, err := os.Open(path)
		switch {
		case err == nil:
			_ = f.Close()
			return true, nil
		case errors.Is(err, fs.ErrPermission):
			return false, nil
		case errors.Is(err, fs.ErrNotExist):
			return true, nil
		default:
			return false, err
		}
	}
}
