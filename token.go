package shelfsync

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// TokenSource yields the bearer token used against the remote catalog.
// Implementations must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. An empty token yields
// ErrAuthentication, which lets callers treat a missing credential as an
// auth precondition failure.
type StaticTokenSource struct {
	AccessToken string
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.AccessToken == "" {
		return "", ErrAuthentication
	}
	return s.AccessToken, nil
}

// Credentials is the persisted credential record.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

const (
	credentialSaltSize  = 16
	credentialKeyIters  = 100000
	credentialKeyLength = 32
)

// CredentialStore persists credentials to disk encrypted with AES-GCM.
// The key is derived from a passphrase with PBKDF2; the salt and nonce are
// stored alongside the ciphertext.
type CredentialStore struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// NewCredentialStore creates a credential store backed by the given file.
func NewCredentialStore(path string, passphrase []byte) *CredentialStore {
	return &CredentialStore{path: path, passphrase: passphrase}
}

func (c *CredentialStore) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(c.passphrase, salt, credentialKeyIters, credentialKeyLength, sha256.New)
}

// Save encrypts and writes the credentials.
func (c *CredentialStore) Save(creds *Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	salt := make([]byte, credentialSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(c.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Layout: salt | nonce | ciphertext
	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	if err := os.WriteFile(c.path, out, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Load decrypts and returns the stored credentials. A missing file or a
// decryption failure yields ErrAuthentication.
func (c *CredentialStore) Load() (*Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrAuthentication
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	if len(data) < credentialSaltSize {
		return nil, ErrAuthentication
	}
	salt := data[:credentialSaltSize]

	block, err := aes.NewCipher(c.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	rest := data[credentialSaltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrAuthentication
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// Clear removes the stored credentials.
func (c *CredentialStore) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// RefreshFunc exchanges a refresh token for new credentials.
type RefreshFunc func(ctx context.Context, refreshToken string) (*Credentials, error)

// RefreshingTokenSource serves tokens from a CredentialStore, refreshing
// them ahead of expiry. Refresh failures surface as ErrAuthentication so
// sync attempts fail the auth precondition instead of starting.
type RefreshingTokenSource struct {
	store   *CredentialStore
	refresh RefreshFunc

	// ExpiryMargin is how far before expiry a refresh is triggered
	ExpiryMargin time.Duration

	mu    sync.Mutex
	cache *Credentials
}

// NewRefreshingTokenSource creates a token source over the given store.
func NewRefreshingTokenSource(store *CredentialStore, refresh RefreshFunc) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		store:        store,
		refresh:      refresh,
		ExpiryMargin: 5 * time.Minute,
	}
}

// Token implements TokenSource.
func (r *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache == nil {
		creds, err := r.store.Load()
		if err != nil {
			return "", err
		}
		r.cache = creds
	}

	creds := r.cache
	if creds.ExpiresAt.IsZero() || time.Until(creds.ExpiresAt) > r.ExpiryMargin {
		if creds.AccessToken == "" {
			return "", ErrAuthentication
		}
		return creds.AccessToken, nil
	}

	if r.refresh == nil || creds.RefreshToken == "" {
		return "", ErrAuthentication
	}

	fresh, err := r.refresh(ctx, creds.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: token refresh failed: %v", ErrAuthentication, err)
	}
	if err := r.store.Save(fresh); err != nil {
		return "", err
	}
	r.cache = fresh
	return fresh.AccessToken, nil
}

// Invalidate drops the in-memory credential cache.
func (r *RefreshingTokenSource) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}
