// Package util holds HTTP client plumbing shared by the model backends.
package util

import (
	"net/http"
	"time"
)

// HTTPOptions configures clients built by NewHTTPClient.
type HTTPOptions struct {
	Timeout    time.Duration
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// NewHTTPClient builds an HTTP client honouring the proxy settings.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy)

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}
}

// WithHeaders returns a copy of client whose requests carry headers. Headers
// already present on a request are overwritten.
func WithHeaders(client *http.Client, headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *client
	c.Transport = &headerTransport{base: base, headers: headers}
	return &c
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
