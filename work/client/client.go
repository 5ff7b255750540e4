package client

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Doer is anything that can send an HTTP request; *http.Client and
// *HeaderSettingClient both satisfy it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DialContextFunc matches net.Dialer.DialContext
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HeaderSettingClient wraps http.Client and stamps a fixed set of headers on
// every outgoing request unless the caller already set them.
type HeaderSettingClient struct {
	Client  *http.Client
	headers http.Header
}

// NewHeaderSettingClient builds a client around an existing http.Client.
//
// Parameters:
//   - c: the underlying client, its transport and timeouts are used as is
//   - headers: defaults applied to each request
//
// Returns:
//   - *HeaderSettingClient: ready to use client
func NewHeaderSettingClient(c *http.Client, headers map[string]string) *HeaderSettingClient {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &HeaderSettingClient{
		Client:  c,
		headers: h,
	}
}

// Do sends req after filling in the default headers
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	for k, vs := range hsc.headers {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// NewAPIClient returns a client for short JSON requests with an overall timeout
func NewAPIClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// NewStreamingTransport returns a transport for long-lived audio streams.
// There is no overall deadline; only connecting and waiting for the response
// headers are bounded.
//
// Parameters:
//   - dial: dial function, normally a guarded dialer
//   - responseHeaderTimeout: how long to wait for upstream headers
//
// Returns:
//   - *http.Transport: transport with keep-alives off, one stream per connection
func NewStreamingTransport(dial DialContextFunc, responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext:           dial,
		MaxIdleConns:          0,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
		DisableCompression:    true,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
}
