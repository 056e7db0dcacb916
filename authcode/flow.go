// Package authcode implements the generic OAuth2 authorization code grant:
// build an authorize URL and redirect the user-agent, receive the provider's
// callback, exchange the code for tokens over the back channel, and persist
// the token fields.  Provider adapters embed Flow and specialize it.
package authcode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"

	"github.com/authbridge/authbridge/adapter"
)

// stateKey is the storage key the per-flow state id persists under across
// the redirect round trip.
const stateKey = "authorization_state"

// exchangeFields are the token response fields the engine persists verbatim.
var exchangeFields = []string{
	"access_token",
	"token_type",
	"refresh_token",
	"expires_in",
}

// Flow implements the authorization code grant shared by providers that
// exchange a short-lived code for tokens.  The flow is UNAUTHENTICATED until
// Authenticate returns a Redirect, AWAITING_CALLBACK until the provider
// calls back, and AUTHENTICATED only after a successful code exchange.
type Flow struct {
	*adapter.Base
	config *Config

	// ExchangeHook, when set, runs against the parsed token response after
	// the generic required-field validation and before any token field is
	// persisted, so a hook error leaves the flow unauthenticated.  It is
	// the extension point providers use to validate and persist extra
	// response fields (Apple stores id_token).
	ExchangeHook func(fields map[string]interface{}) error
}

var _ adapter.Adapter = (*Flow)(nil)

// New creates a Flow for the named provider.
//
// Supported options: adapter.WithLogger, adapter.WithHTTPClient,
// adapter.WithProviderCA, adapter.WithNow
func New(name string, c *Config, store adapter.Storage, opt ...adapter.Option) (*Flow, error) {
	const op = "authcode.New"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	base, err := adapter.NewBase(name, store, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Flow{
		Base:   base,
		config: c,
	}, nil
}

// Config returns the flow's engine configuration.
func (f *Flow) Config() *Config { return f.config }

// Authenticate drives one step of the grant.  A callback carrying a provider
// error field fails with adapter.ErrAuthorizationFailure.  A request without
// a code begins the flow and returns the authorize Redirect.  A callback
// carrying a code finishes the flow: the code is exchanged and the token
// fields are persisted.
func (f *Flow) Authenticate(ctx context.Context, params url.Values) (*adapter.Redirect, error) {
	const op = "authcode.Flow.Authenticate"
	if e := params.Get("error"); e != "" {
		msg := params.Get("error_description")
		if msg == "" {
			msg = e
		}
		return nil, fmt.Errorf("%s: provider returned %q: %s: %w", op, e, msg, adapter.ErrAuthorizationFailure)
	}
	code := params.Get("code")
	if code == "" {
		return f.begin()
	}
	if err := f.finish(ctx, params, code); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *Flow) begin() (*adapter.Redirect, error) {
	const op = "authcode.Flow.begin"
	state, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state id: %w", op, err)
	}
	if err := f.Storage().Set(stateKey, state); err != nil {
		return nil, fmt.Errorf("%s: unable to store state id: %w", op, err)
	}
	u, err := f.AuthorizeURL(state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.Logger().Debug("built authorize url", "provider", f.Name())
	return &adapter.Redirect{URL: u}, nil
}

// AuthorizeURL builds the provider's authorization URL for the given state,
// including the configured extra parameters.  Query parameters are
// percent-encoded per RFC 3986; some providers (Apple) reject the historical
// "+" space encoding.
func (f *Flow) AuthorizeURL(state string) (string, error) {
	const op = "authcode.Flow.AuthorizeURL"
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, adapter.ErrInvalidParameter)
	}
	cfg := oauth2.Config{
		ClientID:    f.config.ClientID,
		RedirectURL: f.config.RedirectURL,
		Scopes:      f.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: f.config.AuthorizeURL,
		},
	}
	names := make([]string, 0, len(f.config.AuthorizeParams))
	for k := range f.config.AuthorizeParams {
		names = append(names, k)
	}
	sort.Strings(names)
	extra := make([]oauth2.AuthCodeOption, 0, len(names))
	for _, k := range names {
		extra = append(extra, oauth2.SetAuthURLParam(k, f.config.AuthorizeParams[k]))
	}
	// url.Values encodes a space as "+"; a literal "+" is always escaped to
	// %2B, so rewriting is safe.
	return strings.ReplaceAll(cfg.AuthCodeURL(state, extra...), "+", "%20"), nil
}

func (f *Flow) finish(ctx context.Context, params url.Values, code string) error {
	const op = "authcode.Flow.finish"
	stored, ok, err := f.Storage().Get(stateKey)
	if err != nil {
		return fmt.Errorf("%s: unable to read stored state: %w", op, err)
	}
	if ok && stored != "" && params.Get("state") != "" && params.Get("state") != stored {
		return fmt.Errorf("%s: callback state does not match the stored state: %w", op, adapter.ErrInvalidAuthorizationCode)
	}

	fields, err := f.tokenRequest(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {f.config.ClientID},
		"client_secret": {string(f.config.ClientSecret)},
		"redirect_uri":  {f.config.RedirectURL},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if access, _ := fields["access_token"].(string); access == "" {
		return fmt.Errorf("%s: access_token is missing from the token response: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	// The hook runs before any token field is stored: a rejected exchange
	// must leave the flow unauthenticated.
	if f.ExchangeHook != nil {
		if err := f.ExchangeHook(fields); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := f.persistTokens(fields); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := f.Storage().Delete(stateKey); err != nil {
		return fmt.Errorf("%s: unable to delete stored state: %w", op, err)
	}
	f.Logger().Debug("exchanged authorization code", "provider", f.Name())
	return nil
}

// tokenRequest POSTs the form to the token endpoint and parses the JSON
// response into a structured map.  Transport failures and non-2xx responses
// both wrap adapter.ErrHTTPRequestFailed; the caller validates the parsed
// fields.
func (f *Flow) tokenRequest(ctx context.Context, form url.Values) (map[string]interface{}, error) {
	const op = "authcode.Flow.tokenRequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to build token request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: token endpoint request failed: %v: %w", op, err, adapter.ErrHTTPRequestFailed)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read token response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: token endpoint returned %d: %w", op, resp.StatusCode, adapter.ErrHTTPRequestFailed)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%s: token response is not valid json: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	return fields, nil
}

// persistTokens stores the recognized token response fields, deriving
// expires_at from expires_in and clearing it when the response carries no
// expiration.
func (f *Flow) persistTokens(fields map[string]interface{}) error {
	const op = "authcode.Flow.persistTokens"
	for _, k := range exchangeFields {
		v := stringField(fields, k)
		if v == "" {
			continue
		}
		if err := f.Storage().Set(k, v); err != nil {
			return fmt.Errorf("%s: unable to store %q: %w", op, k, err)
		}
	}
	if v := stringField(fields, "expires_in"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			at := strconv.FormatInt(f.Now().Unix()+n, 10)
			if err := f.Storage().Set("expires_at", at); err != nil {
				return fmt.Errorf("%s: unable to store expires_at: %w", op, err)
			}
			return nil
		}
	}
	// A response without a usable expires_in must not leave an expiration
	// from a previous token behind.
	if err := f.Storage().Delete("expires_at"); err != nil {
		return fmt.Errorf("%s: unable to delete expires_at: %w", op, err)
	}
	return nil
}

// stringField renders a decoded JSON value as its wire string.
func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// IsConnected reports whether an access token is stored and, when an
// expiration is recorded, not yet past.
func (f *Flow) IsConnected() (bool, error) {
	const op = "authcode.Flow.IsConnected"
	v, ok, err := f.Storage().Get("access_token")
	if err != nil {
		return false, fmt.Errorf("%s: unable to read access token: %w", op, err)
	}
	if !ok || v == "" {
		return false, nil
	}
	exp, ok, err := f.Storage().Get("expires_at")
	if err != nil {
		return false, fmt.Errorf("%s: unable to read expiration: %w", op, err)
	}
	if ok && exp != "" {
		n, err := strconv.ParseInt(exp, 10, 64)
		if err == nil && time.Unix(n, 0).Before(f.Now()) {
			return false, nil
		}
	}
	return true, nil
}

// MaintainTokens refreshes the stored tokens with the refresh grant when the
// access token has expired.  Providers that issued no refresh token report
// adapter.ErrNotSupported.
func (f *Flow) MaintainTokens(ctx context.Context) error {
	const op = "authcode.Flow.MaintainTokens"
	refresh, ok, err := f.Storage().Get("refresh_token")
	if err != nil {
		return fmt.Errorf("%s: unable to read refresh token: %w", op, err)
	}
	if !ok || refresh == "" {
		return fmt.Errorf("%s: no refresh token is stored: %w", op, adapter.ErrNotSupported)
	}
	connected, err := f.IsConnected()
	if err != nil {
		return err
	}
	if connected {
		// nothing to maintain yet
		return nil
	}
	fields, err := f.tokenRequest(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
		"client_id":     {f.config.ClientID},
		"client_secret": {string(f.config.ClientSecret)},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if access, _ := fields["access_token"].(string); access == "" {
		return fmt.Errorf("%s: access_token is missing from the refresh response: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	if err := f.persistTokens(fields); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	f.Logger().Debug("refreshed access token", "provider", f.Name())
	return nil
}

// APIRequest performs a bearer-authenticated call against a provider API
// endpoint using the stored access token and decodes the JSON response into
// out when out is non-nil.
func (f *Flow) APIRequest(ctx context.Context, method, rawURL string, form url.Values, out interface{}) error {
	const op = "authcode.Flow.APIRequest"
	token, ok, err := f.Storage().Get("access_token")
	if err != nil {
		return fmt.Errorf("%s: unable to read access token: %w", op, err)
	}
	if !ok || token == "" {
		return fmt.Errorf("%s: no access token is stored: %w", op, adapter.ErrUnexpectedValue)
	}

	var body io.Reader
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
	default:
		if len(form) > 0 {
			sep := "?"
			if strings.Contains(rawURL, "?") {
				sep = "&"
			}
			rawURL += sep + form.Encode()
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%s: unable to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := f.HTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s: api request failed: %v: %w", op, err, adapter.ErrHTTPRequestFailed)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: unable to read api response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: api endpoint returned %d: %w", op, resp.StatusCode, adapter.ErrHTTPRequestFailed)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: api response is not valid json: %w", op, adapter.ErrUnexpectedAPIResponse)
		}
	}
	return nil
}
