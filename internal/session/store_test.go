package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedesk/internal/domain"
	"github.com/betbot/tradedesk/pkg/sdk/api"
	sdkhttp "github.com/betbot/tradedesk/pkg/sdk/http"
	"github.com/betbot/tradedesk/pkg/secretstore"
)

func unauthorized() error {
	return &sdkhttp.RequestError{Kind: sdkhttp.KindRejected, StatusCode: 401, Message: "Invalid token"}
}

func openVault(t *testing.T) *secretstore.Store {
	t.Helper()
	v, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

type recorder struct {
	events []string
}

func (r *recorder) listener(name string) Listener {
	return ListenerFuncs{
		Activate:   func(s *domain.Session) { r.events = append(r.events, name+":activate:"+s.Credential) },
		Deactivate: func() { r.events = append(r.events, name+":deactivate") },
	}
}

func TestStore_LoginActivates(t *testing.T) {
	mock := api.NewMockClient()
	vault := openVault(t)
	s := New(mock, vault)
	rec := &recorder{}
	s.Subscribe(rec.listener("a"))
	s.Subscribe(rec.listener("b"))

	assert.False(t, s.Active())
	_, ok := s.Credential()
	assert.False(t, ok)

	sess, err := s.Login(context.Background(), api.Credentials{Email: " test@example.com ", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "test-token", sess.Credential)
	assert.Equal(t, "Test User", sess.User.Name)
	assert.True(t, s.Active())

	token, ok := s.Credential()
	assert.True(t, ok)
	assert.Equal(t, "test-token", token)
	assert.Equal(t, []string{"a:activate:test-token", "b:activate:test-token"}, rec.events)

	stored, found, err := vault.GetString(VaultKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "test-token", stored)
}

func TestStore_LoginValidation(t *testing.T) {
	mock := api.NewMockClient()
	s := New(mock, nil)

	_, err := s.Login(context.Background(), api.Credentials{Email: "  ", Password: "pw"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = s.Signup(context.Background(), api.SignupRequest{Name: "n", Email: "e@x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	assert.Equal(t, 0, mock.CallCount("Login"))
	assert.Equal(t, 0, mock.CallCount("Signup"))
}

func TestStore_LoginFailureStaysUnauthenticated(t *testing.T) {
	mock := api.NewMockClient()
	mock.FailNext("Login", &sdkhttp.RequestError{Kind: sdkhttp.KindRejected, StatusCode: 401, Message: "Invalid credentials"})
	s := New(mock, nil)

	_, err := s.Login(context.Background(), api.Credentials{Email: "a@b.c", Password: "bad"})
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", err.Error())
	assert.False(t, s.Active())
}

func TestStore_SignupActivates(t *testing.T) {
	s := New(api.NewMockClient(), nil)
	sess, err := s.Signup(context.Background(), api.SignupRequest{Name: "Alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", sess.User.Name)
	assert.True(t, s.Active())
}

func TestStore_LogoutIsIdempotent(t *testing.T) {
	vault := openVault(t)
	s := New(api.NewMockClient(), vault)
	rec := &recorder{}
	s.Subscribe(rec.listener("l"))

	_, err := s.Login(context.Background(), api.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)

	s.Logout()
	s.Logout()

	assert.False(t, s.Active())
	assert.Nil(t, s.Current())
	assert.Equal(t, []string{"l:activate:test-token", "l:deactivate", "l:deactivate"}, rec.events)

	_, found, err := vault.GetString(VaultKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_HandleAuthFailure(t *testing.T) {
	s := New(api.NewMockClient(), nil)
	_, err := s.Login(context.Background(), api.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)

	// 非鉴权错误不影响会话
	assert.False(t, s.HandleAuthFailure("test-token", &sdkhttp.RequestError{Kind: sdkhttp.KindTransport}))
	assert.False(t, s.HandleAuthFailure("test-token", &sdkhttp.RequestError{Kind: sdkhttp.KindRejected, StatusCode: 400}))
	// 旧凭证的迟到错误被忽略
	assert.False(t, s.HandleAuthFailure("old-token", unauthorized()))
	assert.True(t, s.Active())

	assert.True(t, s.HandleAuthFailure("test-token", unauthorized()))
	assert.False(t, s.Active())
	assert.False(t, s.HandleAuthFailure("test-token", unauthorized()))
}

func TestStore_SwitchingAccountLogsOutFirst(t *testing.T) {
	mock := api.NewMockClient()
	s := New(mock, nil)
	rec := &recorder{}
	s.Subscribe(rec.listener("l"))

	_, err := s.Login(context.Background(), api.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)

	mock.Token = "second-token"
	_, err = s.Login(context.Background(), api.Credentials{Email: "c@d.e", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, []string{"l:activate:test-token", "l:deactivate", "l:activate:second-token"}, rec.events)
}

func TestStore_Resume(t *testing.T) {
	t.Run("valid stored credential", func(t *testing.T) {
		vault := openVault(t)
		require.NoError(t, vault.SetString(VaultKey, "stored-token"))
		s := New(api.NewMockClient(), vault)

		require.NoError(t, s.Resume(context.Background()))
		token, ok := s.Credential()
		assert.True(t, ok)
		assert.Equal(t, "stored-token", token)
	})

	t.Run("rejected stored credential", func(t *testing.T) {
		vault := openVault(t)
		require.NoError(t, vault.SetString(VaultKey, "expired"))
		mock := api.NewMockClient()
		mock.FailNext("Profile", unauthorized())
		s := New(mock, vault)

		require.NoError(t, s.Resume(context.Background()))
		assert.False(t, s.Active())
		_, found, err := vault.GetString(VaultKey)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("transport failure keeps stored credential", func(t *testing.T) {
		vault := openVault(t)
		require.NoError(t, vault.SetString(VaultKey, "stored-token"))
		mock := api.NewMockClient()
		mock.FailNext("Profile", &sdkhttp.RequestError{Kind: sdkhttp.KindTransport, Message: sdkhttp.GenericTransportMessage})
		s := New(mock, vault)

		require.Error(t, s.Resume(context.Background()))
		assert.False(t, s.Active())
		_, found, err := vault.GetString(VaultKey)
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("no vault", func(t *testing.T) {
		mock := api.NewMockClient()
		s := New(mock, nil)
		require.NoError(t, s.Resume(context.Background()))
		assert.False(t, s.Active())
		assert.Equal(t, 0, mock.CallCount("Profile"))
	})
}

func TestStore_RefreshProfile(t *testing.T) {
	mock := api.NewMockClient()
	s := New(mock, nil)

	_, err := s.RefreshProfile(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = s.Login(context.Background(), api.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)

	mock.User.Name = "Renamed"
	u, err := s.RefreshProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", u.Name)
	assert.Equal(t, "Renamed", s.Current().User.Name)

	mock.FailNext("Profile", unauthorized())
	_, err = s.RefreshProfile(context.Background())
	require.Error(t, err)
	assert.False(t, s.Active())
}
