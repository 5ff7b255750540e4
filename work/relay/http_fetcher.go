package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"radio-relay/work/client"
	"radio-relay/work/config"
	"radio-relay/work/logger"
	"radio-relay/work/netguard"
	"radio-relay/work/playlist"
	"radio-relay/work/utils"
)

// StatusError is a non-2xx answer from the upstream
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream answered %s", e.Status)
}

// HTTPFetcher is the primary relay path: a standard HTTP client with a
// browser User-Agent that follows redirects. The body is forwarded as
// received; resolving one level of PLS/M3U indirection is opt-in.
type HTTPFetcher struct {
	client           client.Doer     // header setting client over the guarded transport
	guard            *netguard.Guard // revalidates playlist entries
	resolvePlaylists bool            // open the first playlist entry instead of forwarding the playlist
}

// NewHTTPFetcher builds the primary path from the relay config. Every dial
// and every redirect hop goes through guard.
//
// Parameters:
//   - guard: address guard applied to dials, redirects and playlist entries
//   - cfg: relay settings (timeouts, redirect limit, User-Agent, playlist resolution)
//
// Returns:
//   - *HTTPFetcher: the primary relay path
func NewHTTPFetcher(guard *netguard.Guard, cfg config.RelayConfig) *HTTPFetcher {
	transport := client.NewStreamingTransport(guard.DialContext(cfg.ConnectTimeout), cfg.ResponseHeaderTimeout)

	maxRedirects := cfg.MaxRedirects
	hc := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			if _, err := guard.ValidateURL(req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client: client.NewHeaderSettingClient(hc, map[string]string{
			"User-Agent": cfg.UserAgent,
			"Accept":     "*/*",
		}),
		guard:            guard,
		resolvePlaylists: cfg.ResolvePlaylists,
	}
}

// NewHTTPFetcherWithClient wires a fetcher around an existing client, used by tests
func NewHTTPFetcherWithClient(doer client.Doer, guard *netguard.Guard) *HTTPFetcher {
	return &HTTPFetcher{client: doer, guard: guard}
}

// Fetch opens u and hands back the upstream body verbatim with its content
// type.
//
// With playlist resolution enabled a PLS/M3U answer is resolved once and its
// first entry opened instead; an HLS playlist is still forwarded as is since
// its segments are fetched by the listener.
//
// Parameters:
//   - ctx: bounds the request and the lifetime of the returned body
//   - u: validated upstream URL
//
// Returns:
//   - *Upstream: the open body, ready to pump
//   - error: *StatusError for non-2xx answers, transport errors otherwise
func (f *HTTPFetcher) Fetch(ctx context.Context, u *url.URL) (*Upstream, error) {
	resp, err := f.get(ctx, u)
	if err != nil {
		return nil, err
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	if !f.resolvePlaylists {
		return upstreamFrom(resp, final), nil
	}

	kind := playlist.Detect(resp.Header.Get("Content-Type"), final.Path, resp.ContentLength)
	if kind == playlist.KindNone {
		return upstreamFrom(resp, final), nil
	}

	// read the (small) playlist so it can be forwarded if it cannot be resolved
	data, err := io.ReadAll(io.LimitReader(resp.Body, playlist.MaxPlaylistSize))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist from %s: %w", utils.LogURL(final.String()), err)
	}

	target, err := playlist.Resolve(final, bytes.NewReader(data), kind)
	if errors.Is(err, playlist.ErrAdaptive) {
		logger.Debug("{relay/http_fetcher - Fetch} forwarding adaptive playlist %s", utils.LogURL(final.String()))
		return &Upstream{
			Body:        io.NopCloser(bytes.NewReader(data)),
			ContentType: contentTypeOf(resp),
			Path:        PathHTTP,
			URL:         final,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("playlist %s: %w", utils.LogURL(final.String()), err)
	}

	// the entry is listener controlled data too
	if _, err := f.guard.ValidateURL(target.String()); err != nil {
		return nil, err
	}

	logger.Debug("{relay/http_fetcher - Fetch} playlist %s resolved to %s", utils.LogURL(final.String()), utils.LogURL(target.String()))

	resp, err = f.get(ctx, target)
	if err != nil {
		return nil, err
	}
	return upstreamFrom(resp, target), nil
}

// get issues the GET and turns non-2xx answers into StatusError
func (f *HTTPFetcher) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status + " without body"}
	}
	return resp, nil
}

func upstreamFrom(resp *http.Response, u *url.URL) *Upstream {
	return &Upstream{
		Body:        resp.Body,
		ContentType: contentTypeOf(resp),
		Path:        PathHTTP,
		URL:         u,
	}
}

func contentTypeOf(resp *http.Response) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return DefaultContentType
}
