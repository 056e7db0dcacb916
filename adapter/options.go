package adapter

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// baseOptions is the set of available options for Base adapters.
type baseOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withProviderCA string
	withNow        func() time.Time
}

func baseDefaults() baseOptions {
	return baseOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getBaseOpts gets the defaults and applies the opt overrides passed in.
func getBaseOpts(opt ...Option) baseOptions {
	opts := baseDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional hclog.Logger an adapter logs flow
// transitions to.  The default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*baseOptions); ok {
			o.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for requests to provider
// endpoints, replacing the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*baseOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional CA cert PEM to trust when sending
// requests to provider endpoints.  Ignored when WithHTTPClient is used.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*baseOptions); ok {
			o.withProviderCA = pem
		}
	}
}

// WithNow provides an optional time source used when checking timestamps and
// expirations.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*baseOptions); ok {
			o.withNow = now
		}
	}
}
