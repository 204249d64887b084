package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CodexForgeBR/appboot/internal/dbx"
	"github.com/CodexForgeBR/appboot/internal/model"
)

// ErrNoUser is returned when no signed-in user is recorded.
var ErrNoUser = errors.New("localdb: no current user")

// Users is the local mirror of user profiles. Exactly one row may be marked
// current: the signed-in user.
type Users struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewUsers returns a repository over db.
func NewUsers(db dbx.DBTX) *Users {
	return &Users{db: db, now: time.Now}
}

const userColumns = `id, email, phone_type, has_secure_storage_setup, has_permissions,
	has_apple_driver, has_completed_email_onboarding, mailbox_provider, mailbox_expires_at,
	current_onboarding_step, onboarding_completed_at`

// Current returns the signed-in user.
func (r *Users) Current(ctx context.Context) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE is_current = 1 LIMIT 1`)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNoUser
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to load current user: %w", err)
	}
	return u, nil
}

// Get returns the user with id.
func (r *Users) Get(ctx context.Context, id string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNoUser
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return u, nil
}

// Upsert writes u and marks it as the current user.
func (r *Users) Upsert(ctx context.Context, u model.User) error {
	var provider, expires sql.NullString
	if u.Mailbox != nil {
		provider = sql.NullString{String: u.Mailbox.Provider, Valid: true}
		if !u.Mailbox.ExpiresAt.IsZero() {
			expires = sql.NullString{String: u.Mailbox.ExpiresAt.UTC().Format(time.RFC3339), Valid: true}
		}
	}
	var completed sql.NullString
	if u.OnboardingCompletedAt != nil {
		completed = sql.NullString{String: u.OnboardingCompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_current = 0 WHERE id <> ?`, u.ID); err != nil {
		return fmt.Errorf("failed to clear current user: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`, is_current, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			phone_type = excluded.phone_type,
			has_secure_storage_setup = excluded.has_secure_storage_setup,
			has_permissions = excluded.has_permissions,
			has_apple_driver = excluded.has_apple_driver,
			has_completed_email_onboarding = excluded.has_completed_email_onboarding,
			mailbox_provider = excluded.mailbox_provider,
			mailbox_expires_at = excluded.mailbox_expires_at,
			current_onboarding_step = excluded.current_onboarding_step,
			onboarding_completed_at = excluded.onboarding_completed_at,
			is_current = 1,
			updated_at = excluded.updated_at
	`, u.ID, u.Email, string(u.Phone), u.HasSecureStorageSetup, u.HasPermissions,
		u.HasAppleDriver, u.HasCompletedEmailOnboarding, provider, expires,
		string(u.CurrentOnboardingStep), completed, r.stamp())
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// SetOnboardingStep records the in-progress step and marks the flag of
// every step the user has passed.
func (r *Users) SetOnboardingStep(ctx context.Context, id string, step model.Step) error {
	return r.exec(ctx, id, `UPDATE users SET current_onboarding_step = ?, updated_at = ? WHERE id = ?`,
		string(step), r.stamp(), id)
}

// SetPhoneType records the user's explicit phone selection.
func (r *Users) SetPhoneType(ctx context.Context, id string, phone model.PhoneType) error {
	return r.exec(ctx, id, `UPDATE users SET phone_type = ?, updated_at = ? WHERE id = ?`,
		string(phone), r.stamp(), id)
}

// MarkStepDone sets the completion flag backing step. Steps without a flag
// (phone-type is tracked by the phone type itself) are ignored.
func (r *Users) MarkStepDone(ctx context.Context, id string, step model.Step) error {
	var column string
	switch step {
	case model.StepSecureStorage:
		column = "has_secure_storage_setup"
	case model.StepPermissions:
		column = "has_permissions"
	case model.StepAppleDriver:
		column = "has_apple_driver"
	case model.StepEmailConnect:
		column = "has_completed_email_onboarding"
	default:
		return nil
	}
	return r.exec(ctx, id, `UPDATE users SET `+column+` = 1, updated_at = ? WHERE id = ?`, r.stamp(), id)
}

// CompleteOnboarding stamps the completion marker and clears the saved step.
func (r *Users) CompleteOnboarding(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, id,
		`UPDATE users SET onboarding_completed_at = ?, current_onboarding_step = '', updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), r.stamp(), id)
}

// ClearCurrent forgets which user is signed in.
func (r *Users) ClearCurrent(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_current = 0`); err != nil {
		return fmt.Errorf("failed to clear current user: %w", err)
	}
	return nil
}

func (r *Users) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update user %s: %w", id, ErrNoUser)
	}
	return nil
}

func (r *Users) stamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u                 model.User
		phone, step       string
		provider, expires sql.NullString
		completedAt       sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &phone, &u.HasSecureStorageSetup, &u.HasPermissions,
		&u.HasAppleDriver, &u.HasCompletedEmailOnboarding, &provider, &expires,
		&step, &completedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Phone = model.PhoneType(phone)
	u.CurrentOnboardingStep = model.Step(step)

	if provider.Valid {
		u.Mailbox = &model.MailboxToken{Provider: provider.String}
		if expires.Valid {
			t, err := time.Parse(time.RFC3339, expires.String)
			if err != nil {
				return model.User{}, fmt.Errorf("parse mailbox expiry: %w", err)
			}
			u.Mailbox.ExpiresAt = t
		}
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return model.User{}, fmt.Errorf("parse completion time: %w", err)
		}
		u.OnboardingCompletedAt = &t
	}
	return u, nil
}
