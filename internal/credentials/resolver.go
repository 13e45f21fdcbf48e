package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

var (
	// ErrNoOperator is returned when the operator account does not exist.
	ErrNoOperator = errors.New("credentials: operator account not found")
	// ErrMissingKey is returned when a requested secret is not stored.
	ErrMissingKey = errors.New("credentials: key not stored")
	// ErrNotConfigured is returned when no encryption key or operator is set.
	ErrNotConfigured = errors.New("credentials: not configured")
)

// IsPrecondition reports whether err means the secrets are simply not
// available yet, as opposed to a failure reading them.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNoOperator) || errors.Is(err, ErrMissingKey) || errors.Is(err, ErrNotConfigured)
}

// Resolver reads and writes the operator account's secrets.
type Resolver struct {
	users  catalog.UserStore
	cipher *Cipher
	email  string
	clock  catalog.Clock
}

// NewResolver returns a Resolver for the operator identified by email. A nil
// cipher or an empty email leaves the resolver unconfigured.
func NewResolver(users catalog.UserStore, c *Cipher, email string, clock catalog.Clock) *Resolver {
	return &Resolver{users: users, cipher: c, email: strings.TrimSpace(email), clock: clock}
}

// Secrets returns the decrypted values of names stored under platform.
func (r *Resolver) Secrets(ctx context.Context, platform string, names ...string) (map[string]string, error) {
	if r.cipher == nil || r.email == "" {
		return nil, ErrNotConfigured
	}
	user, err := r.users.FindUserByEmail(ctx, r.email)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoOperator, r.email)
	}
	if err != nil {
		return nil, fmt.Errorf("load operator account: %w", err)
	}
	stored := user.APIKeys[platform]
	out := make(map[string]string, len(names))
	for _, name := range names {
		sealed, ok := stored[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrMissingKey, platform, name)
		}
		plain, err := r.cipher.Decrypt(sealed)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s/%s: %w", platform, name, err)
		}
		out[name] = string(plain)
	}
	return out, nil
}

// Set encrypts secrets and stores them under platform on the account of email,
// creating the account when it does not exist yet.
func (r *Resolver) Set(ctx context.Context, email, platform string, secrets map[string]string) error {
	if r.cipher == nil {
		return ErrNotConfigured
	}
	email = strings.TrimSpace(email)
	if email == "" || platform == "" {
		return fmt.Errorf("credentials: email and platform are required")
	}
	user, err := r.users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		user = catalog.User{Email: email, Username: strings.Split(email, "@")[0], CreatedAt: r.clock.Now()}
	case err != nil:
		return fmt.Errorf("load account %s: %w", email, err)
	}
	if user.APIKeys == nil {
		user.APIKeys = map[string]map[string][]byte{}
	}
	if user.APIKeys[platform] == nil {
		user.APIKeys[platform] = map[string][]byte{}
	}
	for name, value := range secrets {
		sealed, err := r.cipher.Encrypt([]byte(value))
		if err != nil {
			return err
		}
		user.APIKeys[platform][name] = sealed
	}
	if _, err := r.users.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("store secrets for %s: %w", email, err)
	}
	return nil
}
