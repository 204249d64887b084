package localdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexForgeBR/appboot/internal/dbx"
	"github.com/CodexForgeBR/appboot/internal/model"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesFileAndMigratesIdempotently(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "app.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Zero(t, n)
}

func TestMetadata_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	v, err := db.Metadata.Get(ctx, "session")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, db.Metadata.Set(ctx, "session", []byte("one")))
	require.NoError(t, db.Metadata.Set(ctx, "session", []byte("two")))
	v, err = db.Metadata.Get(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)

	require.NoError(t, db.Metadata.Delete(ctx, "session"))
	require.NoError(t, db.Metadata.Delete(ctx, "session"))
	v, err = db.Metadata.Get(ctx, "session")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestUsers_CurrentWithoutUser(t *testing.T) {
	_, err := openMemory(t).Users.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestUsers_UpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	in := model.User{
		ID:                          "u-1",
		Email:                       "a@example.com",
		Phone:                       model.PhoneIPhone,
		HasAppleDriver:              true,
		HasCompletedEmailOnboarding: true,
		Mailbox:                     &model.MailboxToken{Provider: "gmail", ExpiresAt: expiry},
		CurrentOnboardingStep:       model.StepEmailConnect,
	}
	require.NoError(t, db.Users.Upsert(ctx, in))

	got, err := db.Users.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestUsers_UpsertMovesCurrentMarker(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	require.NoError(t, db.Users.Upsert(ctx, model.User{ID: "u-1"}))
	require.NoError(t, db.Users.Upsert(ctx, model.User{ID: "u-2"}))

	got, err := db.Users.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-2", got.ID)

	_, err = db.Users.Get(ctx, "u-1")
	require.NoError(t, err)
}

func TestUsers_ProgressUpdates(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	require.NoError(t, db.Users.Upsert(ctx, model.User{ID: "u-1"}))

	require.NoError(t, db.Users.SetPhoneType(ctx, "u-1", model.PhoneAndroid))
	require.NoError(t, db.Users.SetOnboardingStep(ctx, "u-1", model.StepEmailConnect))
	require.NoError(t, db.Users.MarkStepDone(ctx, "u-1", model.StepSecureStorage))
	require.NoError(t, db.Users.MarkStepDone(ctx, "u-1", model.StepPermissions))
	require.NoError(t, db.Users.MarkStepDone(ctx, "u-1", model.StepPhoneType))

	got, err := db.Users.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhoneAndroid, got.Phone)
	assert.Equal(t, model.StepEmailConnect, got.CurrentOnboardingStep)
	assert.True(t, got.HasSecureStorageSetup)
	assert.True(t, got.HasPermissions)
	assert.False(t, got.HasCompletedEmailOnboarding)
	assert.Nil(t, got.OnboardingCompletedAt)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Users.CompleteOnboarding(ctx, "u-1", at))
	got, err = db.Users.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.OnboardingCompletedAt)
	assert.True(t, at.Equal(*got.OnboardingCompletedAt))
	assert.Empty(t, got.CurrentOnboardingStep)
}

func TestUsers_UpdateUnknownUser(t *testing.T) {
	err := openMemory(t).Users.SetOnboardingStep(context.Background(), "ghost", model.StepPermissions)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestUsers_ClearCurrent(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	require.NoError(t, db.Users.Upsert(ctx, model.User{ID: "u-1"}))
	require.NoError(t, db.Users.ClearCurrent(ctx))

	_, err := db.Users.Current(ctx)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestUsers_WorkInsideTransaction(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	err := dbx.WithTx(ctx, db.Conn(), func(ctx context.Context, tx dbx.DBTX) error {
		users := NewUsers(tx)
		if err := users.Upsert(ctx, model.User{ID: "u-1"}); err != nil {
			return err
		}
		return NewMetadata(tx).Set(ctx, "k", []byte("v"))
	})
	require.NoError(t, err)

	got, err := db.Users.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
}
