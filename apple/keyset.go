package apple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/authbridge/authbridge/adapter"
)

// verifyLeeway is the clock skew allowed when validating id_token expiry.
const verifyLeeway = 120 * time.Second

// KeySet verifies id_token signatures against a provider's published keys.
type KeySet interface {
	// VerifySignature parses the given token, verifies its signature and
	// expiry, and returns the claims in its payload.  The token must be of
	// the JWS compact serialization form.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// remoteKeySet fetches the JSON Web Key Set from a keys endpoint.  With a
// zero cache TTL the set is fetched fresh on every verification.
type remoteKeySet struct {
	url    string
	client *http.Client
	cache  *cache.Cache

	// now is overwritten for testing
	now func() time.Time
}

var _ KeySet = (*remoteKeySet)(nil)

const keyCacheEntry = "jwks"

func newRemoteKeySet(url string, client *http.Client, ttl time.Duration) *remoteKeySet {
	ks := &remoteKeySet{
		url:    url,
		client: client,
		now:    time.Now,
	}
	if ttl > 0 {
		ks.cache = cache.New(ttl, ttl)
	}
	return ks
}

func (ks *remoteKeySet) keys(ctx context.Context) ([]jose.JSONWebKey, error) {
	const op = "apple.remoteKeySet.keys"
	if ks.cache != nil {
		if cached, ok := ks.cache.Get(keyCacheEntry); ok {
			return cached.([]jose.JSONWebKey), nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to build keys request: %w", op, err)
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: keys endpoint request failed: %v: %w", op, err, adapter.ErrHTTPRequestFailed)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read keys response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: keys endpoint returned %d: %w", op, resp.StatusCode, adapter.ErrHTTPRequestFailed)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%s: keys response is malformed: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("%s: keys response contains no keys: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	if ks.cache != nil {
		ks.cache.SetDefault(keyCacheEntry, set.Keys)
	}
	return set.Keys, nil
}

// VerifySignature tries each published key in order and returns the claims
// of the first key that validates the token.  An expired token stops the
// trial immediately, before any remaining keys are tried; any other failure
// moves on to the next key, and the last failure is reported when no key
// validates.
func (ks *remoteKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "apple.remoteKeySet.VerifySignature"
	keys, err := ks.keys(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: id_token is not a compact JWS: %w", op, adapter.ErrUnexpectedValue)
	}
	var lastErr error
	for i := range keys {
		claims, err := verifyWithKey(parsed, keys[i], ks.now())
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, jwt.ErrExpired) {
			return nil, fmt.Errorf("%s: id_token is expired: %w", op, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s: no published key validated the id_token: %w", op, lastErr)
}

// verifyWithKey checks the token's signature against one key and, when the
// signature holds, validates expiry with the configured leeway.
func verifyWithKey(parsed *jwt.JSONWebToken, key jose.JSONWebKey, now time.Time) (map[string]interface{}, error) {
	var std jwt.Claims
	all := map[string]interface{}{}
	if err := parsed.Claims(key, &std, &all); err != nil {
		return nil, err
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: now}, verifyLeeway); err != nil {
		return nil, err
	}
	return all, nil
}
