package httpclient

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Client defines an interface for making HTTP requests.
// The Airtable executor and the trigger sink depend on it so tests can swap the transport.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientFunc adapts a function to the Client interface
type ClientFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req)
func (f ClientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// StandardHTTPClient wraps the standard http.Client
type StandardHTTPClient struct {
	client *http.Client
}

// NewStandardClient creates an HTTP client. timeout is a hard ceiling for a
// single exchange; callers bound individual attempts with a context.
func NewStandardClient(timeout time.Duration) Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &StandardHTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Do executes an HTTP request, propagating the trace context from req.Context()
func (c *StandardHTTPClient) Do(req *http.Request) (*http.Response, error) {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	return c.client.Do(req)
}
