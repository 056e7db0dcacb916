package adapter

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBase(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		adapter   string
		store     Storage
		wantIsErr error
	}{
		{
			name:    "valid",
			adapter: "test",
			store:   NewMemoryStorage(),
		},
		{
			name:      "empty-name",
			adapter:   "",
			store:     NewMemoryStorage(),
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "nil-storage",
			adapter:   "test",
			store:     nil,
			wantIsErr: ErrNilParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewBase(tt.adapter, tt.store)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted %q and got %q", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.adapter, got.Name())
			assert.NotNil(got.HTTPClient())
			assert.NotNil(got.Logger())
		})
	}
}

func TestBase_AccessTokens(t *testing.T) {
	t.Parallel()
	t.Run("filters-to-allow-list", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := NewMemoryStorage()
		require.NoError(store.Set("access_token", "x"))
		require.NoError(store.Set("unrelated", "y"))

		b, err := NewBase("test", store)
		require.NoError(err)

		tokens, err := b.AccessTokens()
		require.NoError(err)
		assert.Equal(map[string]string{"access_token": "x"}, tokens)
	})
	t.Run("omits-empty-values", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := NewMemoryStorage()
		require.NoError(store.Set("access_token", "x"))
		require.NoError(store.Set("refresh_token", ""))

		b, err := NewBase("test", store)
		require.NoError(err)

		tokens, err := b.AccessTokens()
		require.NoError(err)
		assert.Equal(map[string]string{"access_token": "x"}, tokens)
	})
	t.Run("extended-allow-list", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := NewMemoryStorage()
		require.NoError(store.Set("access_token", "x"))
		require.NoError(store.Set("id_token", "z"))

		b, err := NewBase("test", store)
		require.NoError(err)
		b.SetTokenFields(append(append([]string{}, TokenFields...), "id_token")...)

		tokens, err := b.AccessTokens()
		require.NoError(err)
		assert.Equal(map[string]string{"access_token": "x", "id_token": "z"}, tokens)
	})
}

func TestBase_SetAccessTokens(t *testing.T) {
	t.Parallel()
	t.Run("replaces-prior-state", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := NewMemoryStorage()
		require.NoError(store.Set("a", "1"))

		b, err := NewBase("test", store)
		require.NoError(err)
		require.NoError(b.SetAccessTokens(map[string]string{"b": "2"}))

		_, ok, err := store.Get("a")
		require.NoError(err)
		assert.False(ok)
		v, ok, err := store.Get("b")
		require.NoError(err)
		assert.True(ok)
		assert.Equal("2", v)
		assert.Equal(1, store.Len())
	})
	t.Run("runs-reinitialize-hook", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		b, err := NewBase("test", NewMemoryStorage())
		require.NoError(err)

		var called bool
		b.Reinitialize = func() error {
			called = true
			return nil
		}
		require.NoError(b.SetAccessTokens(map[string]string{"access_token": "x"}))
		assert.True(called)
	})
	t.Run("hook-error-is-surfaced", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		b, err := NewBase("test", NewMemoryStorage())
		require.NoError(err)

		wantErr := errors.New("bad derived state")
		b.Reinitialize = func() error { return wantErr }
		err = b.SetAccessTokens(map[string]string{"access_token": "x"})
		require.Error(err)
		require.True(errors.Is(err, wantErr))
	})
}

func TestBase_Disconnect(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	store := NewMemoryStorage()
	require.NoError(store.Set("access_token", "x"))

	b, err := NewBase("test", store)
	require.NoError(err)

	require.NoError(b.Disconnect())
	assert.Equal(0, store.Len())

	// disconnecting an already-empty store is not an error
	require.NoError(b.Disconnect())
}

func TestBase_NotSupported(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()
	b, err := NewBase("test", NewMemoryStorage())
	require.NoError(err)

	_, err = b.Authenticate(ctx, url.Values{})
	require.True(errors.Is(err, ErrNotSupported))
	_, err = b.IsConnected()
	require.True(errors.Is(err, ErrNotSupported))
	_, err = b.Profile(ctx)
	require.True(errors.Is(err, ErrNotSupported))
	require.True(errors.Is(b.MaintainTokens(ctx), ErrNotSupported))
	_, err = b.Contacts(ctx)
	require.True(errors.Is(err, ErrNotSupported))
	_, err = b.Pages(ctx)
	require.True(errors.Is(err, ErrNotSupported))
	_, err = b.UserActivity(ctx)
	require.True(errors.Is(err, ErrNotSupported))
	require.True(errors.Is(b.SetUserStatus(ctx, "hi"), ErrNotSupported))
	require.True(errors.Is(b.SetPageStatus(ctx, "p", "hi"), ErrNotSupported))
	require.True(errors.Is(b.APIRequest(ctx, "GET", "https://example.com", nil, nil), ErrNotSupported))
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := NewMemoryStorage()

	_, ok, err := s.Get("missing")
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.Set("k", "v"))
	v, ok, err := s.Get("k")
	require.NoError(err)
	assert.True(ok)
	assert.Equal("v", v)

	require.NoError(s.Delete("k"))
	_, ok, err = s.Get("k")
	require.NoError(err)
	assert.False(ok)

	// deleting an absent key is not an error
	require.NoError(s.Delete("k"))

	require.NoError(s.Set("a", "1"))
	require.NoError(s.Set("b", "2"))
	require.NoError(s.Clear())
	assert.Equal(0, s.Len())
}
