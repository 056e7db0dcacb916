// Package adapter defines the contract every identity provider
// implementation satisfies, along with the shared pieces those
// implementations are built from: the normalized Profile, the per-session
// Storage, the common error kinds, and the Base type carrying default
// behavior for optional capabilities.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"

	sdkHttp "github.com/authbridge/authbridge/sdk/http"
)

// Adapter is the polymorphic contract every provider implements.  A provider
// implements the subset of capabilities its protocol supports; the rest
// return ErrNotSupported.
type Adapter interface {
	// Name returns the stable provider identifier, e.g. "telegram" or
	// "apple".  It is supplied at construction, never derived from runtime
	// type information.
	Name() string

	// Authenticate drives one step of the provider's flow, reacting to the
	// inbound request parameters.  It returns a *Redirect when the
	// user-agent must be sent to the provider to begin the flow, or a nil
	// Redirect when the inbound callback completed it.
	Authenticate(ctx context.Context, params url.Values) (*Redirect, error)

	// IsConnected reports whether the stored state represents a completed
	// authentication.
	IsConnected() (bool, error)

	// Profile builds the normalized user profile from stored, validated
	// data.
	Profile(ctx context.Context) (*Profile, error)

	// AccessTokens returns the stored token fields, filtered to the
	// provider's allow-list.  Absent fields are omitted, never returned as
	// empty entries.
	AccessTokens() (map[string]string, error)

	// SetAccessTokens clears all stored state and replaces it with the
	// supplied token fields, fully replacing any prior session.
	SetAccessTokens(tokens map[string]string) error

	// MaintainTokens refreshes expired tokens where the provider supports
	// it.
	MaintainTokens(ctx context.Context) error

	// Disconnect clears all stored auth state for this provider instance.
	Disconnect() error

	// Optional capabilities.
	Contacts(ctx context.Context) ([]Contact, error)
	Pages(ctx context.Context) ([]Page, error)
	UserActivity(ctx context.Context) ([]Activity, error)
	SetUserStatus(ctx context.Context, status string) error
	SetPageStatus(ctx context.Context, pageID, status string) error
	APIRequest(ctx context.Context, method, rawURL string, form url.Values, out interface{}) error
}

// TokenFields is the default allow-list AccessTokens filters stored state
// against.  Providers may extend it (Apple adds id_token).
var TokenFields = []string{
	"access_token",
	"token_type",
	"refresh_token",
	"expires_in",
	"expires_at",
}

// Base carries the pieces shared by every adapter: the provider name, the
// per-session storage handle, the http client, and the logger.  It implements
// the generic storage-backed operations of the Adapter contract and returns
// ErrNotSupported for everything protocol-specific, so a concrete adapter
// only overrides what its provider actually supports.
type Base struct {
	name        string
	store       Storage
	client      *http.Client
	logger      hclog.Logger
	now         func() time.Time
	tokenFields []string

	// Reinitialize recomputes token-derived in-memory state after the
	// stored tokens are replaced wholesale via SetAccessTokens.  The
	// adapters in this module keep all session state in Storage and leave
	// it nil; it exists for embedding adapters and hosts that cache state
	// derived from the stored tokens.
	Reinitialize func() error
}

// Base satisfies the full contract so concrete adapters only override the
// capabilities they implement.
var _ Adapter = (*Base)(nil)

// NewBase creates the shared adapter core for the named provider.
//
// Supported options: WithLogger, WithHTTPClient, WithProviderCA, WithNow
func NewBase(name string, store Storage, opt ...Option) (*Base, error) {
	const op = "adapter.NewBase"
	if name == "" {
		return nil, fmt.Errorf("%s: provider name is empty: %w", op, ErrInvalidParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getBaseOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = sdkHttp.NewClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	return &Base{
		name:        name,
		store:       store,
		client:      client,
		logger:      opts.withLogger,
		now:         opts.withNow,
		tokenFields: TokenFields,
	}, nil
}

// Name returns the provider identifier supplied at construction.
func (b *Base) Name() string { return b.name }

// Storage returns the per-session store this adapter was constructed with.
func (b *Base) Storage() Storage { return b.store }

// HTTPClient returns the client used for requests to provider endpoints.
func (b *Base) HTTPClient() *http.Client { return b.client }

// Logger returns the adapter's logger.
func (b *Base) Logger() hclog.Logger { return b.logger }

// Now returns the current time from the configured time source.
func (b *Base) Now() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}

// SetTokenFields replaces the allow-list AccessTokens filters against.
func (b *Base) SetTokenFields(fields ...string) {
	b.tokenFields = fields
}

// Disconnect clears all stored auth state for this provider instance.  It
// does not error if the store is already empty.
func (b *Base) Disconnect() error {
	const op = "adapter.Base.Disconnect"
	if err := b.store.Clear(); err != nil {
		return fmt.Errorf("%s: unable to clear stored state: %w", op, err)
	}
	b.logger.Debug("cleared stored auth state", "provider", b.name)
	return nil
}

// AccessTokens returns the subset of the token allow-list actually present
// in storage.  Absent or empty fields are omitted.
func (b *Base) AccessTokens() (map[string]string, error) {
	const op = "adapter.Base.AccessTokens"
	tokens := make(map[string]string, len(b.tokenFields))
	for _, f := range b.tokenFields {
		v, ok, err := b.store.Get(f)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read %q: %w", op, f, err)
		}
		if ok && v != "" {
			tokens[f] = v
		}
	}
	return tokens, nil
}

// SetAccessTokens clears the existing stored state, writes the supplied
// token fields key by key, and re-runs the adapter's Reinitialize hook so
// derived state reflects the injected tokens.  The prior session is fully
// replaced.
func (b *Base) SetAccessTokens(tokens map[string]string) error {
	const op = "adapter.Base.SetAccessTokens"
	if err := b.store.Clear(); err != nil {
		return fmt.Errorf("%s: unable to clear stored state: %w", op, err)
	}
	for k, v := range tokens {
		if err := b.store.Set(k, v); err != nil {
			return fmt.Errorf("%s: unable to store %q: %w", op, k, err)
		}
	}
	if b.Reinitialize != nil {
		if err := b.Reinitialize(); err != nil {
			return fmt.Errorf("%s: unable to reinitialize adapter: %w", op, err)
		}
	}
	return nil
}

// notSupported builds the error every unimplemented capability returns.
func (b *Base) notSupported(capability string) error {
	return fmt.Errorf("adapter.Base.%s: provider %q: %w", capability, b.name, ErrNotSupported)
}

// The remaining contract methods are capability defaults; a concrete adapter
// overrides the ones its provider supports.

func (b *Base) Authenticate(context.Context, url.Values) (*Redirect, error) {
	return nil, b.notSupported("Authenticate")
}

func (b *Base) IsConnected() (bool, error) {
	return false, b.notSupported("IsConnected")
}

func (b *Base) Profile(context.Context) (*Profile, error) {
	return nil, b.notSupported("Profile")
}

func (b *Base) MaintainTokens(context.Context) error {
	return b.notSupported("MaintainTokens")
}

func (b *Base) Contacts(context.Context) ([]Contact, error) {
	return nil, b.notSupported("Contacts")
}

func (b *Base) Pages(context.Context) ([]Page, error) {
	return nil, b.notSupported("Pages")
}

func (b *Base) UserActivity(context.Context) ([]Activity, error) {
	return nil, b.notSupported("UserActivity")
}

func (b *Base) SetUserStatus(context.Context, string) error {
	return b.notSupported("SetUserStatus")
}

func (b *Base) SetPageStatus(context.Context, string, string) error {
	return b.notSupported("SetPageStatus")
}

func (b *Base) APIRequest(context.Context, string, string, url.Values, interface{}) error {
	return b.notSupported("APIRequest")
}
