package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"radio-relay/work/logger"
	"radio-relay/work/metrics"
	"radio-relay/work/netguard"
	"radio-relay/work/utils"
)

// ErrUpstream is returned when neither relay path could open the stream
var ErrUpstream = errors.New("upstream unavailable")

// DefaultContentType is sent when the upstream does not name one
const DefaultContentType = "audio/mpeg"

// Transport path labels, also used as metric labels
const (
	PathHTTP   = "http"
	PathSocket = "socket"
)

// Upstream is one open upstream stream. The relay owns exactly one
// connection per Upstream; closing Body releases it.
type Upstream struct {
	Body        io.ReadCloser // raw payload, audio or a forwarded playlist
	ContentType string        // value for the listener's Content-Type header
	Path        string        // PathHTTP or PathSocket
	URL         *url.URL      // URL actually streamed, after redirects and any playlist resolution
}

// Fetcher opens an upstream stream for an already validated URL
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) (*Upstream, error)
}

// Relay validates a listener supplied URL and opens it, first through the
// standard HTTP client and, when that fails on a non-conformant response,
// once through the raw socket fallback.
type Relay struct {
	guard    *netguard.Guard
	primary  Fetcher
	fallback Fetcher
	classify func(error) bool
}

// New creates a Relay.
//
// Parameters:
//   - guard: URL and address policy
//   - primary: the HTTP client path
//   - fallback: the raw socket path, nil disables it
func New(guard *netguard.Guard, primary, fallback Fetcher) *Relay {
	return &Relay{
		guard:    guard,
		primary:  primary,
		fallback: fallback,
		classify: IsProtocolError,
	}
}

// Open validates rawURL and returns the open upstream.
//
// Errors:
//   - netguard.ErrInvalidInput: the URL was refused before any network call
//   - ErrUpstream: both paths failed, or the primary failed in a way the
//     fallback cannot help with (bad status, DNS, refused connection, timeout)
func (r *Relay) Open(ctx context.Context, rawURL string) (*Upstream, error) {
	u, err := r.guard.ValidateURL(rawURL)
	if err != nil {
		metrics.RelayErrors.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	up, err := r.primary.Fetch(ctx, u)
	if err == nil {
		return up, nil
	}

	// a redirect or playlist entry pointing into private space
	if errors.Is(err, netguard.ErrInvalidInput) {
		metrics.RelayErrors.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	if r.fallback == nil || !r.classify(err) {
		metrics.RelayErrors.WithLabelValues("upstream").Inc()
		logger.Warn("{relay - Open} upstream %s failed: %v", utils.LogURL(u.String()), err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	logger.Info("{relay - Open} non-conformant response from %s, switching to socket: %v", utils.LogURL(u.String()), err)
	metrics.RelayFallbacks.Inc()

	up, ferr := r.fallback.Fetch(ctx, u)
	if ferr != nil {
		metrics.RelayErrors.WithLabelValues("fallback").Inc()
		logger.Warn("{relay - Open} socket fallback for %s failed: %v", utils.LogURL(u.String()), ferr)
		if errors.Is(ferr, netguard.ErrInvalidInput) {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: http: %v; socket: %v", ErrUpstream, err, ferr)
	}

	return up, nil
}
