// Package auth keeps the signed-in session on disk.
//
// The session is a JWT issued by the backend. It is stored sealed under the
// keystore data key in the local metadata table. Tokens are decoded without
// signature verification: the backend verifies them on every request, the
// client only needs the subject and the expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/CodexForgeBR/appboot/internal/model"
)

const sessionKey = "session"

// ErrInvalidToken is returned by Save for tokens without a subject.
var ErrInvalidToken = errors.New("auth: token has no subject")

// Sealer encrypts values at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// KV is the metadata storage the session lives in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SessionStore reads and writes the stored session.
type SessionStore struct {
	sealer Sealer
	kv     KV
	now    func() time.Time
}

// NewSessionStore returns a store over kv sealed by sealer.
func NewSessionStore(sealer Sealer, kv KV) *SessionStore {
	return &SessionStore{sealer: sealer, kv: kv, now: time.Now}
}

// Load returns the stored session, or nil when there is none, it has
// expired, or it cannot be decoded. Only storage failures are errors.
func (s *SessionStore) Load(ctx context.Context) (*model.Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	plain, err := s.sealer.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("unseal session: %w", err)
	}

	sess, err := decode(string(plain))
	if err != nil {
		return nil, nil
	}
	if !sess.ExpiresAt.IsZero() && !s.now().Before(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

// Save stores token as the current session.
func (s *SessionStore) Save(ctx context.Context, token string) (*model.Session, error) {
	sess, err := decode(token)
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKey, sealed); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return sess, nil
}

// Clear removes the stored session.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func decode(token string) (*model.Session, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	sess := &model.Session{UserID: claims.Subject, Token: token}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

// Issue signs an HS256 session token for userID. It backs the local login
// command and the development profile server.
func Issue(secret []byte, userID string, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
	})
	return token.SignedString(secret)
}
