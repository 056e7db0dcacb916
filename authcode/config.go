package authcode

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"

	"github.com/authbridge/authbridge/adapter"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client
// secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config describes a provider speaking the OAuth2 authorization code grant.
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.  Providers that mint their
	// secret (Apple) inject it here before the Flow is constructed.
	ClientSecret ClientSecret

	// AuthorizeURL is the provider's authorization endpoint.
	AuthorizeURL string

	// TokenURL is the provider's token endpoint.
	TokenURL string

	// RedirectURL is the callback the provider redirects the user-agent back
	// to.
	RedirectURL string

	// Scopes is the list of scopes to request of the provider.
	Scopes []string

	// AuthorizeParams are provider-specific extra authorize query
	// parameters, for example Apple's response_mode=form_post.
	AuthorizeParams map[string]string
}

// Validate the engine configuration.  All missing required fields are
// reported together; every one wraps adapter.ErrInvalidCredentials.
func (c *Config) Validate() error {
	const op = "authcode.Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, adapter.ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", adapter.ErrInvalidCredentials))
	}
	if err := validateEndpoint("authorize URL", c.AuthorizeURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateEndpoint("token URL", c.TokenURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateEndpoint("redirect URL", c.RedirectURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validateEndpoint(name, rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%s is empty: %w", name, adapter.ErrInvalidCredentials)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s %q is invalid: %v: %w", name, rawURL, err, adapter.ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s %q scheme is not http or https: %w", name, rawURL, adapter.ErrInvalidParameter)
	}
	return nil
}
