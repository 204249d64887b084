// Package app binds the concrete storage, session, profile and permission
// backends to the interfaces the loading pipeline and the resume bridge
// consume.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/CodexForgeBR/appboot/internal/auth"
	"github.com/CodexForgeBR/appboot/internal/keystore"
	"github.com/CodexForgeBR/appboot/internal/localdb"
	"github.com/CodexForgeBR/appboot/internal/logging"
	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/onboarding"
	"github.com/CodexForgeBR/appboot/internal/permissions"
	"github.com/CodexForgeBR/appboot/internal/phases"
	"github.com/CodexForgeBR/appboot/internal/platform"
	"github.com/CodexForgeBR/appboot/internal/profile"
	"github.com/CodexForgeBR/appboot/internal/resume"
	"github.com/CodexForgeBR/appboot/internal/retry"
)

var (
	// ErrNotInitialized is returned before secure storage is initialized.
	ErrNotInitialized = errors.New("secure storage not initialized")
	// ErrNoSession is returned when user data is requested while signed out.
	ErrNoSession = errors.New("no stored session")
)

var (
	_ phases.Collaborators = (*Services)(nil)
	_ resume.Writer        = (*Services)(nil)
)

// ProfileAPI is the remote profile service.
type ProfileAPI interface {
	Get(ctx context.Context, id string) (model.User, error)
	Put(ctx context.Context, u model.User) error
	SetStep(ctx context.Context, id string, step model.Step) error
	SetPhoneType(ctx context.Context, id string, phone model.PhoneType) error
	MarkDone(ctx context.Context, id string, step model.Step) error
	Complete(ctx context.Context, id string, at time.Time) error
}

// Services is the production backend. The local database is opened during
// secure storage initialization because its session row is sealed under the
// vault key.
type Services struct {
	Vault       *keystore.Vault
	DBPath      string
	Profile     ProfileAPI
	Permissions *permissions.Checker
	// Platform orders saved steps when local and remote progress disagree.
	Platform platform.Info

	mu       sync.Mutex
	db       *localdb.DB
	sessions *auth.SessionStore
}

// InitializeSecureStorage unlocks the vault and opens the local database.
func (s *Services) InitializeSecureStorage(ctx context.Context) model.InitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return model.InitResult{Success: true}
	}

	if res := s.Vault.Initialize(ctx); !res.Success {
		return res
	}
	db, err := localdb.Open(ctx, s.DBPath)
	if err != nil {
		return model.InitResult{Error: fmt.Sprintf("local database unavailable: %v", err)}
	}
	s.db = db
	s.sessions = auth.NewSessionStore(s.Vault, db.Metadata)
	return model.InitResult{Success: true}
}

func (s *Services) backends() (*localdb.DB, *auth.SessionStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, nil, ErrNotInitialized
	}
	return s.db, s.sessions, nil
}

// GetStoredSession returns the signed-in session, nil when signed out.
func (s *Services) GetStoredSession(ctx context.Context) (*model.Session, error) {
	_, sessions, err := s.backends()
	if err != nil {
		return nil, err
	}
	return sessions.Load(ctx)
}

// Token returns the current bearer token, or "" when signed out.
func (s *Services) Token(ctx context.Context) string {
	sess, err := s.GetStoredSession(ctx)
	if err != nil || sess == nil {
		return ""
	}
	return sess.Token
}

// GetCurrentUser returns the signed-in user. The remote profile is merged
// with the local copy so progress saved while the service was unreachable
// survives; a merged snapshot that differs from the remote one is pushed
// back. When the profile service is unreachable the local copy is used if
// there is one.
func (s *Services) GetCurrentUser(ctx context.Context) (model.User, error) {
	db, sessions, err := s.backends()
	if err != nil {
		return model.User{}, err
	}
	sess, err := sessions.Load(ctx)
	if err != nil {
		return model.User{}, err
	}
	if sess == nil {
		return model.User{}, ErrNoSession
	}

	local, lerr := db.Users.Get(ctx, sess.UserID)
	hasLocal := lerr == nil
	if lerr != nil && !errors.Is(lerr, localdb.ErrNoUser) {
		return model.User{}, lerr
	}

	if s.Profile == nil {
		if !hasLocal {
			local = model.User{ID: sess.UserID}
		}
		return local, db.Users.Upsert(ctx, local)
	}

	remote, err := s.Profile.Get(ctx, sess.UserID)
	switch {
	case err == nil:
		merged := remote
		if hasLocal {
			merged = s.mergeUser(local, remote)
			if !cmp.Equal(merged, remote) {
				if err := s.Profile.Put(ctx, merged); err != nil {
					logging.Warn(fmt.Sprintf("Failed to push offline progress: %v", err))
				}
			}
		}
		if err := db.Users.Upsert(ctx, merged); err != nil {
			logging.Warn(fmt.Sprintf("Failed to mirror profile locally: %v", err))
		}
		return merged, nil

	case errors.Is(err, profile.ErrNotFound):
		if !hasLocal {
			local = model.User{ID: sess.UserID}
		}
		if err := s.Profile.Put(ctx, local); err != nil {
			logging.Warn(fmt.Sprintf("Failed to create remote profile: %v", err))
		}
		return local, db.Users.Upsert(ctx, local)

	case hasLocal:
		logging.Warn(fmt.Sprintf("Profile service unavailable, using local copy: %v", err))
		return local, nil

	default:
		return model.User{}, fmt.Errorf("load profile: %w", err)
	}
}

// mergeUser combines the local and remote snapshots of one user. Completion
// only moves forward: flags are OR'ed, a completion marker on either side is
// kept, and the saved step is whichever comes later in the sequence.
func (s *Services) mergeUser(local, remote model.User) model.User {
	m := remote
	if m.Email == "" {
		m.Email = local.Email
	}
	if m.Phone == "" {
		m.Phone = local.Phone
	}
	if m.Mailbox == nil {
		m.Mailbox = local.Mailbox
	}
	m.HasSecureStorageSetup = m.HasSecureStorageSetup || local.HasSecureStorageSetup
	m.HasPermissions = m.HasPermissions || local.HasPermissions
	m.HasAppleDriver = m.HasAppleDriver || local.HasAppleDriver
	m.HasCompletedEmailOnboarding = m.HasCompletedEmailOnboarding || local.HasCompletedEmailOnboarding

	if m.OnboardingCompletedAt == nil {
		m.OnboardingCompletedAt = local.OnboardingCompletedAt
	}
	if m.OnboardingCompletedAt != nil {
		m.CurrentOnboardingStep = ""
		return m
	}

	seq := onboarding.Sequence(s.Platform, m.Phone)
	if slices.Index(seq, local.CurrentOnboardingStep) > slices.Index(seq, m.CurrentOnboardingStep) {
		m.CurrentOnboardingStep = local.CurrentOnboardingStep
	}
	return m
}

// CheckAllPermissions probes OS permissions.
func (s *Services) CheckAllPermissions(ctx context.Context) (model.PermissionStatus, error) {
	return s.Permissions.CheckAll(ctx)
}

// PersistOnboardingStep stores the in-progress step locally and remotely.
func (s *Services) PersistOnboardingStep(ctx context.Context, userID string, step model.Step) error {
	return s.write(ctx,
		func(db *localdb.DB) error { return db.Users.SetOnboardingStep(ctx, userID, step) },
		func(p ProfileAPI) error { return p.SetStep(ctx, userID, step) })
}

// PersistPhoneType stores the user's phone selection locally and remotely.
func (s *Services) PersistPhoneType(ctx context.Context, userID string, phone model.PhoneType) error {
	return s.write(ctx,
		func(db *localdb.DB) error { return db.Users.SetPhoneType(ctx, userID, phone) },
		func(p ProfileAPI) error { return p.SetPhoneType(ctx, userID, phone) })
}

// CompleteOnboarding stamps the completion marker locally and remotely.
func (s *Services) CompleteOnboarding(ctx context.Context, userID string, at time.Time) error {
	return s.write(ctx,
		func(db *localdb.DB) error { return db.Users.CompleteOnboarding(ctx, userID, at) },
		func(p ProfileAPI) error { return p.Complete(ctx, userID, at) })
}

// MarkStepDone sets the completion flag for step locally and remotely.
func (s *Services) MarkStepDone(ctx context.Context, userID string, step model.Step) error {
	return s.write(ctx,
		func(db *localdb.DB) error { return db.Users.MarkStepDone(ctx, userID, step) },
		func(p ProfileAPI) error { return p.MarkDone(ctx, userID, step) })
}

func (s *Services) write(ctx context.Context, local func(*localdb.DB) error, remote func(ProfileAPI) error) error {
	db, _, err := s.backends()
	if err != nil {
		return err
	}
	lerr := local(db)
	if s.Profile == nil {
		return lerr
	}
	rerr := remote(s.Profile)
	// A request the service rejected will not succeed on retry.
	var se *profile.StatusError
	if lerr == nil && (errors.As(rerr, &se) && se.Code < 500 || errors.Is(rerr, profile.ErrNotFound)) {
		return retry.Permanent(rerr)
	}
	return errors.Join(lerr, rerr)
}

// Login stores token as the session and records its user locally.
func (s *Services) Login(ctx context.Context, token string) (*model.Session, error) {
	db, sessions, err := s.backends()
	if err != nil {
		return nil, err
	}
	sess, err := sessions.Save(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := db.Users.Get(ctx, sess.UserID)
	if errors.Is(err, localdb.ErrNoUser) {
		u = model.User{ID: sess.UserID}
	} else if err != nil {
		return nil, err
	}
	return sess, db.Users.Upsert(ctx, u)
}

// Logout forgets the session and the current user.
func (s *Services) Logout(ctx context.Context) error {
	db, sessions, err := s.backends()
	if err != nil {
		return err
	}
	return errors.Join(sessions.Clear(ctx), db.Users.ClearCurrent(ctx))
}

// Close releases the local database.
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.sessions = nil, nil
	return err
}
