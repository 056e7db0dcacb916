// Package apple implements Sign in with Apple, an OIDC authorization code
// flow.  The adapter specializes the generic authcode engine in two ways:
// the client secret is not a static string but an ES256-signed JWT minted
// from the team's private key, and the identity returned by the token
// endpoint is an id_token whose signature is verified against Apple's
// published keys.
package apple

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/authbridge/authbridge/adapter"
	"github.com/authbridge/authbridge/authcode"
)

const (
	// ProviderName is the stable identifier for this adapter.
	ProviderName = "apple"

	// Audience is the aud claim Apple expects on minted client secrets.
	Audience = "https://appleid.apple.com"

	defaultAuthorizeURL = "https://appleid.apple.com/auth/authorize"
	defaultTokenURL     = "https://appleid.apple.com/auth/token"
	defaultKeysURL      = "https://appleid.apple.com/auth/keys"

	// idTokenKey is the storage key the identity token persists under.
	idTokenKey = "id_token"

	// userKey is the storage key the callback's user field persists under.
	// Apple sends the user's full name only once, on first consent.
	userKey = "user"
)

// Config holds the credentials for a Sign in with Apple client.
type Config struct {
	// ClientID is the Services ID registered with Apple, used as the OAuth
	// client id and the sub claim of the minted client secret.
	ClientID string

	// TeamID is the Apple Developer team identifier; it becomes the iss
	// claim of the minted client secret.
	TeamID string

	// KeyID identifies the private key registered with Apple; it is placed
	// in the kid header of the minted client secret.
	KeyID string

	// KeyContent is the PEM-encoded PKCS#8 private key.  When empty, KeyFile
	// is read instead.
	KeyContent string

	// KeyFile is a path to the PEM-encoded private key.
	KeyFile string

	// RedirectURL is the callback Apple posts the authorization response to.
	RedirectURL string

	// Scopes defaults to "name email".
	Scopes []string

	// VerifyTokenSignature controls whether Profile verifies the stored
	// id_token against Apple's published keys.  nil means true.  Disabling
	// it skips both the signature and the expiry check; it is a reduced
	// trust mode for hosts that terminate verification elsewhere.
	VerifyTokenSignature *bool

	// AuthorizeURL, TokenURL and KeysURL override Apple's endpoints.  They
	// are normally left empty and exist for tests and private relays.
	AuthorizeURL string
	TokenURL     string
	KeysURL      string
}

// Validate the Apple credentials.  All missing required fields are reported
// together; every one wraps adapter.ErrInvalidCredentials with a
// field-specific message.
func (c *Config) Validate() error {
	const op = "apple.Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, adapter.ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", adapter.ErrInvalidCredentials))
	}
	if c.TeamID == "" {
		result = multierror.Append(result, fmt.Errorf("team id is empty: %w", adapter.ErrInvalidCredentials))
	}
	if c.KeyID == "" {
		result = multierror.Append(result, fmt.Errorf("key id is empty: %w", adapter.ErrInvalidCredentials))
	}
	if c.KeyContent == "" && c.KeyFile == "" {
		result = multierror.Append(result, fmt.Errorf("private key is empty: provide KeyContent or KeyFile: %w", adapter.ErrInvalidCredentials))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Config) verifySignature() bool {
	return c.VerifyTokenSignature == nil || *c.VerifyTokenSignature
}

// Adapter authenticates users through Sign in with Apple.
type Adapter struct {
	*authcode.Flow
	config *Config
	keys   KeySet
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an Apple adapter.  The configured private key is loaded and
// the client secret is minted up front, so credential problems fail here
// rather than at exchange time.
//
// Supported options: adapter.WithLogger, adapter.WithHTTPClient,
// adapter.WithProviderCA, adapter.WithNow, WithKeyCacheTTL
func New(c *Config, store adapter.Storage, opt ...adapter.Option) (*Adapter, error) {
	const op = "apple.New"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	key, err := privateKey(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{"name", "email"}
	}
	engineConfig := &authcode.Config{
		ClientID:     c.ClientID,
		AuthorizeURL: defaultString(c.AuthorizeURL, defaultAuthorizeURL),
		TokenURL:     defaultString(c.TokenURL, defaultTokenURL),
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		// Apple's callback delivery requires a form POST.
		AuthorizeParams: map[string]string{"response_mode": "form_post"},
	}
	flow, err := authcode.New(ProviderName, engineConfig, store, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	secret, err := clientSecret(c, key, flow.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	engineConfig.ClientSecret = authcode.ClientSecret(secret)

	opts := getOpts(opt...)
	a := &Adapter{
		Flow:   flow,
		config: c,
	}
	a.keys = newRemoteKeySet(defaultString(c.KeysURL, defaultKeysURL), flow.HTTPClient(), opts.withKeyCacheTTL)
	a.Flow.ExchangeHook = a.validateExchange
	a.SetTokenFields(append(append([]string{}, adapter.TokenFields...), idTokenKey)...)
	return a, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Authenticate captures Apple's user field before delegating to the generic
// engine.  Apple sends the user's name only on the first-consent callback,
// alongside the code, and never again.
func (a *Adapter) Authenticate(ctx context.Context, params url.Values) (*adapter.Redirect, error) {
	const op = "apple.Adapter.Authenticate"
	if v := params.Get("user"); v != "" {
		if err := a.Storage().Set(userKey, v); err != nil {
			return nil, fmt.Errorf("%s: unable to store user field: %w", op, err)
		}
	}
	return a.Flow.Authenticate(ctx, params)
}

// validateExchange is the engine's exchange hook: beyond the generic token
// validation, Apple's response must carry an id_token, and it is persisted.
func (a *Adapter) validateExchange(fields map[string]interface{}) error {
	const op = "apple.Adapter.validateExchange"
	raw, _ := fields[idTokenKey].(string)
	if raw == "" {
		return fmt.Errorf("%s: id_token is missing from the token response: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	if err := a.Storage().Set(idTokenKey, raw); err != nil {
		return fmt.Errorf("%s: unable to store id_token: %w", op, err)
	}
	return nil
}

// Profile builds the normalized profile from the stored id_token claims.
// With signature verification enabled (the default) the token is verified
// against Apple's published keys first; otherwise the payload is decoded
// without any signature or expiry check.
func (a *Adapter) Profile(ctx context.Context) (*adapter.Profile, error) {
	const op = "apple.Adapter.Profile"
	raw, ok, err := a.Storage().Get(idTokenKey)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read id_token: %w", op, err)
	}
	if !ok || raw == "" {
		return nil, fmt.Errorf("%s: no id_token is stored: %w", op, adapter.ErrUnexpectedValue)
	}

	var claims map[string]interface{}
	if a.config.verifySignature() {
		claims, err = a.keys.VerifySignature(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
		}
	} else {
		claims, err = unverifiedClaims(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%s: sub claim is missing from id_token: %w", op, adapter.ErrUnexpectedValue)
	}
	if exp, ok := claims["exp"].(float64); ok {
		at := strconv.FormatInt(int64(exp), 10)
		if err := a.Storage().Set("expires_at", at); err != nil {
			return nil, fmt.Errorf("%s: unable to store expires_at: %w", op, err)
		}
	}

	p := &adapter.Profile{
		Identifier: sub,
	}
	p.Email, _ = claims["email"].(string)
	a.applyUserNames(p)
	return p, nil
}

// unverifiedClaims decodes the payload segment of a compact JWS without any
// signature or expiry check.
func unverifiedClaims(raw string) (map[string]interface{}, error) {
	const op = "apple.unverifiedClaims"
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%s: id_token is not a compact JWS: %w", op, adapter.ErrUnexpectedValue)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%s: id_token payload is not base64url: %w", op, adapter.ErrUnexpectedValue)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: id_token payload is not valid json: %w", op, adapter.ErrUnexpectedValue)
	}
	return claims, nil
}

// applyUserNames populates the name fields from the stored user field.  The
// field is best-effort: it only exists on first consent and a malformed
// value never fails the profile.
func (a *Adapter) applyUserNames(p *adapter.Profile) {
	raw, ok, err := a.Storage().Get(userKey)
	if err != nil || !ok || raw == "" {
		return
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		a.Logger().Debug("stored user field is malformed", "provider", a.Name())
		return
	}
	p.FirstName = u.Name.FirstName
	p.LastName = u.Name.LastName
	p.DisplayName = strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName)
}
