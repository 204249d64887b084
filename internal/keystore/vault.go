// Package keystore guards the local data key.
//
// A random 32-byte data key is sealed with an age X25519 identity kept in
// the state directory with owner-only permissions. The identity file stands
// in for the OS credential vault (Keychain on macOS, DPAPI on Windows).
// Values stored at rest are sealed with XChaCha20-Poly1305 under the data key.
package keystore

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/CodexForgeBR/appboot/internal/model"
)

const (
	identityFile = "vault.identity"
	sealedFile   = "datakey.age"
	keySize      = chacha20poly1305.KeySize
)

var (
	// ErrLocked is returned by Seal and Open before Initialize succeeds.
	ErrLocked = errors.New("keystore: vault is locked")
	// ErrCorrupt means the sealed key did not decrypt to a valid key.
	ErrCorrupt = errors.New("keystore: sealed data key is corrupt")
)

// Vault owns the data key for one state directory.
type Vault struct {
	dir   string
	label string

	mu  sync.RWMutex
	key []byte
}

// New returns a locked vault rooted at dir. label names the backing OS
// vault for messages.
func New(dir, label string) *Vault {
	return &Vault{dir: dir, label: label}
}

// Exists reports whether a sealed data key is already present.
func (v *Vault) Exists() bool {
	_, err := os.Stat(filepath.Join(v.dir, sealedFile))
	return err == nil
}

// Initialize creates or unlocks the data key. Failures are reported in the
// result, never as an error.
func (v *Vault) Initialize(ctx context.Context) model.InitResult {
	if err := ctx.Err(); err != nil {
		return model.InitResult{Error: err.Error()}
	}
	if err := v.unlock(); err != nil {
		return model.InitResult{Error: fmt.Sprintf("%s access failed: %v", v.label, err)}
	}
	return model.InitResult{Success: true}
}

// Unlocked reports whether Initialize has succeeded.
func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

func (v *Vault) unlock() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		return nil
	}

	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	id, err := v.loadIdentity()
	if err != nil {
		return err
	}

	sealedPath := filepath.Join(v.dir, sealedFile)
	sealed, err := os.ReadFile(sealedPath)
	if errors.Is(err, os.ErrNotExist) {
		key, err := v.createKey(id, sealedPath)
		if err != nil {
			return err
		}
		v.key = key
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sealed key: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(sealed), id)
	if err != nil {
		return fmt.Errorf("decrypt data key: %w", err)
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read data key: %w", err)
	}
	if len(key) != keySize {
		return ErrCorrupt
	}
	v.key = key
	return nil
}

func (v *Vault) loadIdentity() (*age.X25519Identity, error) {
	path := filepath.Join(v.dir, identityFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if _, serr := os.Stat(filepath.Join(v.dir, sealedFile)); serr == nil {
			return nil, errors.New("identity missing for existing data key")
		}
		id, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write identity: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	id, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	return id, nil
}

func (v *Vault) createKey(id *age.X25519Identity, path string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, id.Recipient())
	if err != nil {
		return nil, fmt.Errorf("seal data key: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return nil, fmt.Errorf("seal data key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal data key: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write sealed key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under the data key. The nonce is prepended.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	aead, err := v.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	aead, err := v.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("keystore: sealed value too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: open sealed value: %w", err)
	}
	return pt, nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()
	if key == nil {
		return nil, ErrLocked
	}
	return chacha20poly1305.NewX(key)
}
