// Package httpclient is a small bearer-token HTTP client. The server URL and
// token come from a Configurator, so callers can build one per credential set
// without touching a global client.
package httpclient

import "context"

// HTTPClientInterface is implemented by HTTPClient.
type HTTPClientInterface interface {
	// DoRequest issues the request and returns the response, or an
	// *HTTPError for non-2xx statuses.
	DoRequest(ctx context.Context, opts RequestOptions) (*Response, error)

	// Get is DoRequest with GET and no body.
	Get(ctx context.Context, path string) (*Response, error)
}

// Factory builds a client for one credential set.
type Factory func(config Configurator) HTTPClientInterface

// DefaultFactory returns NewClient with default options.
func DefaultFactory(config Configurator) HTTPClientInterface {
	return NewClient(config)
}

var _ HTTPClientInterface = &HTTPClient{}
