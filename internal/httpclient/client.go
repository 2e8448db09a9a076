// Package httpclient builds the retrying HTTP clients used for outbound provider calls.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Defaults for provider clients.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultRetryMax = 3
)

// Options configures New. Zero values use the defaults; a negative RetryMax disables retries.
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// New returns a standard *http.Client that retries connection errors, 429 and 5xx responses
// with exponential backoff. SDK clients built on it should disable their own retries.
func New(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = DefaultRetryMax
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = max(opts.RetryMax, 0)
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // callers log at the provider layer

	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}

	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}

	return retryClient.StandardClient()
}
