package credentials

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

type fakeUsers struct {
	users map[string]catalog.User
}

func (f *fakeUsers) FindUserByEmail(_ context.Context, email string) (catalog.User, error) {
	u, ok := f.users[email]
	if !ok {
		return catalog.User{}, catalog.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, user catalog.User) (catalog.User, error) {
	if user.ID == "" {
		user.ID = "u-" + user.Email
	}
	f.users[user.Email] = user
	return user, nil
}

func (f *fakeUsers) CountUsers(context.Context) (int, error) { return len(f.users), nil }

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

var key = bytes.Repeat([]byte{7}, 32)

func TestCipherRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("s3cret"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "s3cret")

	again, err := c.Encrypt([]byte("s3cret"))
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonces must differ")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "s3cret", string(plain))

	other, err := NewCipher(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	require.ErrorIs(t, err, ErrCiphertext)
	_, err = c.Decrypt([]byte{1, 2})
	require.ErrorIs(t, err, ErrCiphertext)
}

func TestNewCipherRejectsBadKey(t *testing.T) {
	t.Parallel()

	_, err := NewCipher([]byte("short"))
	require.Error(t, err)
}

func TestResolverSetThenSecrets(t *testing.T) {
	t.Parallel()

	c, err := NewCipher(key)
	require.NoError(t, err)
	users := &fakeUsers{users: map[string]catalog.User{}}
	r := NewResolver(users, c, "ops@example.com", fixedClock{})
	ctx := context.Background()

	_, err = r.Secrets(ctx, "ionq", "TOKEN")
	require.ErrorIs(t, err, ErrNoOperator)
	require.True(t, IsPrecondition(err))

	require.NoError(t, r.Set(ctx, "ops@example.com", "ionq", map[string]string{"TOKEN": "abc"}))
	stored := users.users["ops@example.com"]
	require.Equal(t, "ops", stored.Username)
	require.NotEqual(t, []byte("abc"), stored.APIKeys["ionq"]["TOKEN"])

	got, err := r.Secrets(ctx, "ionq", "TOKEN")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"TOKEN": "abc"}, got)

	_, err = r.Secrets(ctx, "amazon_braket", "AWS_REGION")
	require.ErrorIs(t, err, ErrMissingKey)
	require.True(t, IsPrecondition(err))
}

func TestResolverUnconfigured(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeUsers{users: map[string]catalog.User{}}, nil, "ops@example.com", fixedClock{})
	_, err := r.Secrets(context.Background(), "ionq", "TOKEN")
	require.ErrorIs(t, err, ErrNotConfigured)
	require.ErrorIs(t, r.Set(context.Background(), "ops@example.com", "ionq", nil), ErrNotConfigured)
}
