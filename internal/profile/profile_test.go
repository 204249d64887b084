package profile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexForgeBR/appboot/internal/auth"
	"github.com/CodexForgeBR/appboot/internal/model"
)

func newServer(t *testing.T, secret []byte) (*MemoryStore, *httptest.Server) {
	t.Helper()
	store := NewMemoryStore()
	srv := httptest.NewServer((&Server{Store: store, Secret: secret}).Router())
	t.Cleanup(srv.Close)
	return store, srv
}

func TestClient_GetNotFound(t *testing.T) {
	_, srv := newServer(t, nil)
	c := NewClient(srv.URL, time.Second, nil)

	_, err := c.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_PutGetAndUpdates(t *testing.T) {
	ctx := context.Background()
	store, srv := newServer(t, nil)
	c := NewClient(srv.URL+"/", time.Second, nil)

	require.NoError(t, c.Put(ctx, model.User{ID: "u-1", Email: "a@example.com"}))
	require.NoError(t, c.SetPhoneType(ctx, "u-1", model.PhoneIPhone))
	require.NoError(t, c.SetStep(ctx, "u-1", model.StepAppleDriver))

	u, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.Equal(t, model.PhoneIPhone, u.Phone)
	assert.Equal(t, model.StepAppleDriver, u.CurrentOnboardingStep)

	require.NoError(t, c.MarkDone(ctx, "u-1", model.StepAppleDriver))
	u, err = c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, u.HasAppleDriver)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, c.Complete(ctx, "u-1", at))
	stored, ok := store.Get("u-1")
	require.True(t, ok)
	require.NotNil(t, stored.OnboardingCompletedAt)
	assert.True(t, at.Equal(*stored.OnboardingCompletedAt))
	assert.Empty(t, stored.CurrentOnboardingStep)
}

func TestServer_RejectsUnknownStep(t *testing.T) {
	ctx := context.Background()
	store, srv := newServer(t, nil)
	store.Put(model.User{ID: "u-1"})
	c := NewClient(srv.URL, time.Second, nil)

	err := c.SetStep(ctx, "u-1", model.Step("bogus"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "unknown onboarding step", se.Message)
}

func TestServer_UpdateMissingUser(t *testing.T) {
	_, srv := newServer(t, nil)
	c := NewClient(srv.URL, time.Second, nil)
	assert.ErrorIs(t, c.SetPhoneType(context.Background(), "ghost", model.PhoneAndroid), ErrNotFound)
}

func TestServer_BearerAuth(t *testing.T) {
	secret := []byte("s3cret")
	store, srv := newServer(t, secret)
	store.Put(model.User{ID: "u-1"})
	ctx := context.Background()

	anon := NewClient(srv.URL, time.Second, nil)
	var se *StatusError
	require.True(t, errors.As(func() error { _, err := anon.Get(ctx, "u-1"); return err }(), &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	tok, err := auth.Issue(secret, "u-1", time.Hour)
	require.NoError(t, err)
	authed := NewClient(srv.URL, time.Second, func(context.Context) string { return tok })
	_, err = authed.Get(ctx, "u-1")
	require.NoError(t, err)

	_, err = authed.Get(ctx, "u-2")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)

	forged, err := auth.Issue([]byte("other"), "u-1", time.Hour)
	require.NoError(t, err)
	bad := NewClient(srv.URL, time.Second, func(context.Context) string { return forged })
	_, err = bad.Get(ctx, "u-1")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestServer_Health(t *testing.T) {
	_, srv := newServer(t, []byte("s"))
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_TransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond, nil)
	_, err := c.Get(context.Background(), "u-1")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
