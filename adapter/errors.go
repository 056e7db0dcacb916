package adapter

import (
	"errors"
)

var (
	// ErrInvalidCredentials means the provider configuration is missing a
	// required credential field.  It is raised at construction and is fatal
	// for that adapter instance.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidAuthorizationCode means the inbound callback failed
	// verification: a signature mismatch, a stale timestamp, or a state that
	// does not match.  The user must restart the flow.
	ErrInvalidAuthorizationCode = errors.New("invalid authorization code")

	// ErrAuthorizationFailure means the provider itself reported an error on
	// the callback instead of an authorization code.
	ErrAuthorizationFailure = errors.New("authorization failure reported by provider")

	// ErrUnexpectedAPIResponse means stored or fetched provider data lacks a
	// required field; either the provider violated its contract or the stored
	// state is corrupted.
	ErrUnexpectedAPIResponse = errors.New("unexpected api response")

	// ErrUnexpectedValue means a token or claim payload is malformed or is
	// missing a required value.
	ErrUnexpectedValue = errors.New("unexpected value")

	// ErrHTTPRequestFailed means a transport failure or a non-2xx response
	// from a provider endpoint.  Requests are never retried automatically.
	ErrHTTPRequestFailed = errors.New("http request failed")

	// ErrNotSupported means the capability is not implemented by this
	// provider.  It is always safe to catch and treat as "feature
	// unavailable".
	ErrNotSupported = errors.New("not supported")

	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
)
