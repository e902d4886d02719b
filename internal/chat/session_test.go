package chat_test

import (
	"context"
	"errors"
	"testing"

	"chatus/internal/chat"
	"chatus/internal/memstore"

	"github.com/stretchr/testify/require"
)

func TestGateLogin(t *testing.T) {
	t.Parallel()

	store := memstore.New(newMock(), "/blobs")
	created, err := store.CreateAccount(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	gate := chat.NewGate(newLogger(t), store, store)
	require.Equal(t, chat.Anonymous{}, gate.State())

	id, err := gate.Login(context.Background(), "  alice@example.com \n", password)
	require.NoError(t, err)

	require.Equal(t, created, id)
	require.Equal(t, chat.Authenticated{Identity: id}, gate.State())

	current, ok := gate.Current()
	require.True(t, ok)
	require.Equal(t, id, current)

	profile, err := store.Profile(context.Background(), id.ID)
	require.NoError(t, err)
	require.Equal(t, chat.Profile{Email: "alice@example.com"}, profile)
}

func TestGateLoginInvalidCredentials(t *testing.T) {
	t.Parallel()

	store := memstore.New(newMock(), "/blobs")
	_, err := store.CreateAccount(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	gate := chat.NewGate(newLogger(t), store, store)

	_, err = gate.Login(context.Background(), "alice@example.com", "wrong")

	require.True(t, errors.Is(err, chat.ErrAuth))
	require.True(t, errors.Is(err, chat.ErrInvalidCredentials))
	require.Equal(t, chat.Anonymous{}, gate.State())

	_, ok := gate.Current()
	require.False(t, ok)
}

func TestGateLoginProfileFailure(t *testing.T) {
	t.Parallel()

	store := memstore.New(newMock(), "/blobs")
	_, err := store.CreateAccount(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	gate := chat.NewGate(newLogger(t), store, profileStub{})

	id, err := gate.Login(context.Background(), "alice@example.com", password)

	require.NoError(t, err)
	require.Equal(t, chat.Authenticated{Identity: id}, gate.State())
}

type failingSignOut struct {
	chat.IdentityService
}

func (failingSignOut) SignOut(context.Context, chat.Identity) error {
	return errors.New("token revocation failed")
}

func TestGateLogout(t *testing.T) {
	t.Parallel()

	store := memstore.New(newMock(), "/blobs")
	_, err := store.CreateAccount(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	gate := chat.NewGate(newLogger(t), store, store)

	// logging out an anonymous gate is a no-op
	require.NoError(t, gate.Logout(context.Background()))

	_, err = gate.Login(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	require.NoError(t, gate.Logout(context.Background()))
	require.Equal(t, chat.Anonymous{}, gate.State())
}

func TestGateLogoutSignOutFailure(t *testing.T) {
	t.Parallel()

	store := memstore.New(newMock(), "/blobs")
	_, err := store.CreateAccount(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	gate := chat.NewGate(newLogger(t), failingSignOut{IdentityService: store}, store)
	_, err = gate.Login(context.Background(), "alice@example.com", password)
	require.NoError(t, err)

	err = gate.Logout(context.Background())

	require.True(t, errors.Is(err, chat.ErrAuth))
	require.Equal(t, chat.Anonymous{}, gate.State())
}
