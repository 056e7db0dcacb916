package apple

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/authbridge/authbridge/adapter"
)

func TestRemoteKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keysServer := serveJWKS(t, rsaJWK(key1, "k1"), rsaJWK(key2, "k2"))

	newKeySet := func(url string) *remoteKeySet {
		ks := newRemoteKeySet(url, http.DefaultClient, 0)
		ks.now = func() time.Time { return now }
		return ks
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		token := signIDToken(t, key1, "k1", jwt.Claims{
			Subject: "001234.abcdef",
			Expiry:  jwt.NewNumericDate(now.Add(time.Hour)),
		}, map[string]interface{}{"email": "user@example.com"})

		claims, err := newKeySet(keysServer.URL).VerifySignature(ctx, token)
		require.NoError(err)
		assert.Equal("001234.abcdef", claims["sub"])
		assert.Equal("user@example.com", claims["email"])
	})

	t.Run("rotated-key-validates", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		// signed by the second published key, so the first one is tried
		// and rejected before the match
		token := signIDToken(t, key2, "k2", jwt.Claims{
			Subject: "001234.abcdef",
			Expiry:  jwt.NewNumericDate(now.Add(time.Hour)),
		}, nil)

		claims, err := newKeySet(keysServer.URL).VerifySignature(ctx, token)
		require.NoError(err)
		assert.Equal("001234.abcdef", claims["sub"])
	})

	t.Run("expired-stops-the-trial", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		token := signIDToken(t, key1, "k1", jwt.Claims{
			Subject: "001234.abcdef",
			Expiry:  jwt.NewNumericDate(now.Add(-time.Hour)),
		}, nil)

		_, err := newKeySet(keysServer.URL).VerifySignature(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, jwt.ErrExpired))
		assert.Contains(err.Error(), "id_token is expired")
		assert.NotContains(err.Error(), "no published key")
	})

	t.Run("expiry-within-leeway", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		token := signIDToken(t, key1, "k1", jwt.Claims{
			Subject: "001234.abcdef",
			Expiry:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		}, nil)

		_, err := newKeySet(keysServer.URL).VerifySignature(ctx, token)
		require.NoError(err)
	})

	t.Run("no-key-validates", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		unpublished, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		token := signIDToken(t, unpublished, "k9", jwt.Claims{
			Subject: "001234.abcdef",
			Expiry:  jwt.NewNumericDate(now.Add(time.Hour)),
		}, nil)

		_, err = newKeySet(keysServer.URL).VerifySignature(ctx, token)
		require.Error(err)
		require.Contains(err.Error(), "no published key validated")
	})

	t.Run("not-a-jws", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		_, err := newKeySet(keysServer.URL).VerifySignature(ctx, "not-a-token")
		require.Error(err)
		require.True(errors.Is(err, adapter.ErrUnexpectedValue))
	})
}

func TestRemoteKeySet_Keys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("endpoint-error", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream gone", http.StatusBadGateway)
		}))
		t.Cleanup(ts.Close)

		_, err := newRemoteKeySet(ts.URL, http.DefaultClient, 0).keys(ctx)
		require.Error(err)
		require.True(errors.Is(err, adapter.ErrHTTPRequestFailed))
	})

	t.Run("malformed-response", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		}))
		t.Cleanup(ts.Close)

		_, err := newRemoteKeySet(ts.URL, http.DefaultClient, 0).keys(ctx)
		require.Error(err)
		require.True(errors.Is(err, adapter.ErrUnexpectedAPIResponse))
	})

	t.Run("empty-set", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"keys":[]}`))
		}))
		t.Cleanup(ts.Close)

		_, err := newRemoteKeySet(ts.URL, http.DefaultClient, 0).keys(ctx)
		require.Error(err)
		require.True(errors.Is(err, adapter.ErrUnexpectedAPIResponse))
	})

	t.Run("cache", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		jwk := rsaJWK(key, "k1")

		var requests int32
		counted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
		}))
		t.Cleanup(counted.Close)

		ks := newRemoteKeySet(counted.URL, http.DefaultClient, time.Minute)
		_, err = ks.keys(ctx)
		require.NoError(err)
		_, err = ks.keys(ctx)
		require.NoError(err)
		assert.Equal(int32(1), atomic.LoadInt32(&requests))

		// without a TTL every call refetches
		uncached := newRemoteKeySet(counted.URL, http.DefaultClient, 0)
		_, err = uncached.keys(ctx)
		require.NoError(err)
		_, err = uncached.keys(ctx)
		require.NoError(err)
		assert.Equal(int32(3), atomic.LoadInt32(&requests))
	})
}
