package apple

import (
	"time"

	"github.com/authbridge/authbridge/adapter"
)

// options is the set of available options for Apple adapters beyond the
// shared adapter options.
type options struct {
	withKeyCacheTTL time.Duration
}

func defaults() options {
	return options{}
}

// getOpts gets the defaults and applies the opt overrides passed in.
func getOpts(opt ...adapter.Option) options {
	opts := defaults()
	adapter.ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyCacheTTL caches the fetched provider keys for d instead of fetching
// the key set on every verification, which is the default.
func WithKeyCacheTTL(d time.Duration) adapter.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyCacheTTL = d
		}
	}
}
