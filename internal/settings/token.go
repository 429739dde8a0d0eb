package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zalando/go-keyring"
)

const (
	KeyringService = "kg-cli"
	keyringUser    = "api-key"

	// EnvAPIKey overrides the stored key.
	EnvAPIKey = "KG_API_KEY"
)

// ErrNoToken is returned when no API key is stored.
var ErrNoToken = errors.New("no API key stored")

// TokenStore keeps the API key in the OS keyring.
type TokenStore struct {
	service string
	user    string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{service: KeyringService, user: keyringUser}
}

func (t *TokenStore) Get() (string, error) {
	token, err := keyring.Get(t.service, t.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read API key from keyring: %w", err)
	}
	return token, nil
}

func (t *TokenStore) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("API key is empty")
	}
	if err := keyring.Set(t.service, t.user, token); err != nil {
		return fmt.Errorf("failed to store API key in keyring: %w", err)
	}
	return nil
}

func (t *TokenStore) Delete() error {
	err := keyring.Delete(t.service, t.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("failed to remove API key from keyring: %w", err)
	}
	return nil
}

// Token sources reported by ResolveAPIKey.
const (
	SourceEnv     = "env"
	SourceKeyring = "keyring"
	SourceNone    = "none"
)

// TokenGetter reads a stored API key.
type TokenGetter interface {
	Get() (string, error)
}

// ResolveAPIKey returns the API key from the environment, falling back to
// the store. A missing key is not an error: the backend may not need one.
func ResolveAPIKey(store TokenGetter) (key, source string, err error) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		return v, SourceEnv, nil
	}
	token, err := store.Get()
	if errors.Is(err, ErrNoToken) {
		return "", SourceNone, nil
	}
	if err != nil {
		return "", SourceNone, err
	}
	return token, SourceKeyring, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it. ok is false
// for keys that are not JWTs or carry no expiry.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	t, err := claims.GetExpirationTime()
	if err != nil || t == nil {
		return time.Time{}, false
	}
	return t.Time, true
}
