// Package telegram implements Telegram's login-widget scheme.  It is a
// signed-assertion verification, not an OAuth2 grant: the widget redirects
// back with the user's fields and an HMAC-SHA256 digest computed by
// Telegram, and the adapter reproduces the digest from the fields to verify
// the payload's origin.  There is no token exchange.
package telegram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/authbridge/authbridge/adapter"
)

const (
	// ProviderName is the stable identifier for this adapter.
	ProviderName = "telegram"

	widgetAuthURL = "https://oauth.telegram.org/auth"

	// maxAuthAge is how long, in seconds, a signed widget payload stays
	// acceptable.
	maxAuthAge = 86400

	// authDataKey is the storage key the verified widget payload persists
	// under.
	authDataKey = "auth_data"
)

// checkFields are the widget payload fields covered by the HMAC signature.
// The hash field itself is never part of the signed set.
var checkFields = []string{
	"id",
	"first_name",
	"last_name",
	"username",
	"photo_url",
	"auth_date",
}

// Config holds the credentials for a Telegram login widget.
type Config struct {
	// BotID is the bot identifier presented to the widget.
	BotID string

	// BotToken is the bot's secret token.  The HMAC secret is its SHA-256
	// digest.
	BotToken string

	// CallbackURL is where the widget sends the signed payload.
	CallbackURL string

	// Nonce, when set, is carried through the widget round trip on the
	// return URL.
	Nonce string
}

// Validate the widget configuration.  All missing required fields are
// reported together; every one wraps adapter.ErrInvalidCredentials.
func (c *Config) Validate() error {
	const op = "telegram.Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, adapter.ErrNilParameter)
	}
	var result *multierror.Error
	if c.BotID == "" {
		result = multierror.Append(result, fmt.Errorf("bot id is empty: %w", adapter.ErrInvalidCredentials))
	}
	if c.BotToken == "" {
		result = multierror.Append(result, fmt.Errorf("bot token is empty: %w", adapter.ErrInvalidCredentials))
	}
	if c.CallbackURL == "" {
		result = multierror.Append(result, fmt.Errorf("callback URL is empty: %w", adapter.ErrInvalidCredentials))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Adapter authenticates users through Telegram's login widget.
type Adapter struct {
	*adapter.Base
	config *Config
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Telegram adapter.
//
// Supported options: adapter.WithLogger, adapter.WithHTTPClient,
// adapter.WithProviderCA, adapter.WithNow
func New(c *Config, store adapter.Storage, opt ...adapter.Option) (*Adapter, error) {
	const op = "telegram.New"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	base, err := adapter.NewBase(ProviderName, store, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Adapter{
		Base:   base,
		config: c,
	}, nil
}

// Authenticate drives one step of the widget flow.  A request without a hash
// parameter begins the flow and returns a Redirect to the widget; a request
// carrying a hash is the widget's callback and is verified.
func (a *Adapter) Authenticate(ctx context.Context, params url.Values) (*adapter.Redirect, error) {
	if params.Get("hash") == "" {
		return a.begin(), nil
	}
	if err := a.finish(params); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *Adapter) begin() *adapter.Redirect {
	returnTo := a.config.CallbackURL
	if a.config.Nonce != "" {
		sep := "?"
		if strings.Contains(returnTo, "?") {
			sep = "&"
		}
		returnTo += sep + "nonce=" + url.QueryEscape(a.config.Nonce)
	}
	origin := a.config.CallbackURL
	if u, err := url.Parse(a.config.CallbackURL); err == nil && u.Scheme != "" {
		origin = u.Scheme + "://" + u.Host
	}
	q := url.Values{}
	q.Set("bot_id", a.config.BotID)
	q.Set("origin", origin)
	q.Set("embed", "1")
	q.Set("return_to", returnTo)
	a.Logger().Debug("built widget url", "provider", a.Name())
	return &adapter.Redirect{URL: widgetAuthURL + "?" + q.Encode()}
}

func (a *Adapter) finish(params url.Values) error {
	const op = "telegram.Adapter.finish"
	received := params.Get("hash")

	secret := sha256.Sum256([]byte(a.config.BotToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(checkString(params)))
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(received)) {
		return fmt.Errorf("%s: data is not from telegram: %w", op, adapter.ErrInvalidAuthorizationCode)
	}
	authDate, err := strconv.ParseInt(params.Get("auth_date"), 10, 64)
	if err != nil {
		return fmt.Errorf("%s: auth_date %q is malformed: %w", op, params.Get("auth_date"), adapter.ErrInvalidAuthorizationCode)
	}
	if a.Now().Unix()-authDate > maxAuthAge {
		return fmt.Errorf("%s: data is outdated: %w", op, adapter.ErrInvalidAuthorizationCode)
	}

	// Persist the full parsed field set, hash included.
	data := make(map[string]string, len(checkFields)+1)
	for _, f := range checkFields {
		if v := params.Get(f); v != "" {
			data[f] = v
		}
	}
	data["hash"] = received
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%s: unable to encode auth data: %w", op, err)
	}
	if err := a.Storage().Set(authDataKey, string(raw)); err != nil {
		return fmt.Errorf("%s: unable to store auth data: %w", op, err)
	}
	a.Logger().Debug("verified widget payload", "provider", a.Name())
	return nil
}

// checkString builds the signed data-check string: one "key=value" entry per
// non-empty signed field, the entries byte-sorted as whole strings, joined
// with newlines.
func checkString(params url.Values) string {
	pairs := make([]string, 0, len(checkFields))
	for _, f := range checkFields {
		if v := params.Get(f); v != "" {
			pairs = append(pairs, f+"="+v)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\n")
}

// IsConnected reports whether a verified widget payload is stored.
func (a *Adapter) IsConnected() (bool, error) {
	const op = "telegram.Adapter.IsConnected"
	v, ok, err := a.Storage().Get(authDataKey)
	if err != nil {
		return false, fmt.Errorf("%s: unable to read auth data: %w", op, err)
	}
	return ok && v != "", nil
}

// Profile builds the normalized profile from the stored widget payload.
func (a *Adapter) Profile(ctx context.Context) (*adapter.Profile, error) {
	const op = "telegram.Adapter.Profile"
	raw, ok, err := a.Storage().Get(authDataKey)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read auth data: %w", op, err)
	}
	if !ok || raw == "" {
		return nil, fmt.Errorf("%s: no auth data is stored: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%s: stored auth data is malformed: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	if data["id"] == "" {
		return nil, fmt.Errorf("%s: user id is missing from auth data: %w", op, adapter.ErrUnexpectedAPIResponse)
	}
	p := &adapter.Profile{
		Identifier:  data["id"],
		FirstName:   data["first_name"],
		LastName:    data["last_name"],
		DisplayName: data["username"],
		PhotoURL:    data["photo_url"],
	}
	if data["username"] != "" {
		p.ProfileURL = "https://t.me/" + data["username"]
	}
	return p, nil
}
