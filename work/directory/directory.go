package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/ratelimit"

	"radio-relay/work/client"
	"radio-relay/work/config"
	"radio-relay/work/logger"
	"radio-relay/work/metrics"
	"radio-relay/work/types"
)

// ErrUnavailable is returned when no directory server produced a usable answer
var ErrUnavailable = errors.New("directory unavailable")

// ServerPicker hands out a directory hostname per attempt
type ServerPicker interface {
	RandomServer(ctx context.Context) string
}

// Cache stores search results per query key
type Cache interface {
	GetStations(key string) ([]types.Station, bool)
	SetStations(key string, stations []types.Station)
}

// Options tunes the client.
type Options struct {
	Scheme       string // "https" in production
	MaxRetries   int    // retries after the first failed request
	DefaultLimit int    // page size when a query has none
}

// OptionsFromConfig maps the directory config section to Options
func OptionsFromConfig(cfg config.DirectoryConfig) Options {
	return Options{
		Scheme:       "https",
		MaxRetries:   cfg.MaxRetries,
		DefaultLimit: cfg.DefaultLimit,
	}
}

// Client searches the station directory through the discovered server pool.
type Client struct {
	http    client.Doer
	servers ServerPicker
	cache   Cache
	limiter ratelimit.Limiter
	opts    Options
}

// New creates a directory client.
//
// Parameters:
//   - doer: HTTP client carrying the directory User-Agent and Content-Type headers
//   - servers: source of directory hostnames
//   - cache: query cache, results are read from and written to it
//   - limiter: outbound rate limit, ratelimit.NewUnlimited() disables it
//   - opts: retry and paging settings
func New(doer client.Doer, servers ServerPicker, cache Cache, limiter ratelimit.Limiter, opts Options) *Client {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 24
	}
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}
	return &Client{
		http:    doer,
		servers: servers,
		cache:   cache,
		limiter: limiter,
		opts:    opts,
	}
}

// rawStation is the subset of the directory's station record we read
type rawStation struct {
	StationUUID string `json:"stationuuid"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	URLResolved string `json:"url_resolved"`
	Favicon     string `json:"favicon"`
	Tags        string `json:"tags"`
	Codec       string `json:"codec"`
	Bitrate     int    `json:"bitrate"`
}

// toStation maps a directory record, preferring the resolved stream URL
func (rs rawStation) toStation() types.Station {
	streamURL := rs.URLResolved
	if streamURL == "" {
		streamURL = rs.URL
	}
	return types.Station{
		StationID: rs.StationUUID,
		Name:      rs.Name,
		URL:       streamURL,
		Favicon:   rs.Favicon,
		Tags:      rs.Tags,
		Codec:     rs.Codec,
		Bitrate:   rs.Bitrate,
	}
}

// Search returns stations matching q.
//
// A cached answer is returned without any network traffic. Otherwise each
// attempt picks a random server; a failed attempt (bad status, transport
// error or undecodable body) moves on to another random server until
// MaxRetries retries have been spent, after which ErrUnavailable is returned.
// Non-empty results are cached.
func (c *Client) Search(ctx context.Context, q Query) ([]types.Station, error) {
	q = q.normalize(c.opts.DefaultLimit)
	key := q.Key(c.opts.DefaultLimit)

	if stations, ok := c.cache.GetStations(key); ok {
		logger.Debug("{directory - Search} cache hit for %s", key)
		return stations, nil
	}

	attempts := 0
	for {
		server := c.servers.RandomServer(ctx)
		stations, err := c.search(ctx, server, q)
		if err == nil {
			if len(stations) > 0 {
				c.cache.SetStations(key, stations)
			}
			return stations, nil
		}

		// the caller went away, no point in rotating servers
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		attempts++
		if attempts > c.opts.MaxRetries {
			logger.Error("{directory - Search} giving up after %d attempts: %v", attempts, err)
			return nil, fmt.Errorf("%w: %d attempts, last error: %v", ErrUnavailable, attempts, err)
		}

		logger.Warn("{directory - Search} attempt %d against %s failed, retrying: %v", attempts, server, err)
	}
}

// search performs a single search request against server
func (c *Client) search(ctx context.Context, server string, q Query) ([]types.Station, error) {
	endpoint := url.URL{
		Scheme:   c.opts.Scheme,
		Host:     server,
		Path:     "/json/stations/search",
		RawQuery: q.values().Encode(),
	}

	body, err := c.get(ctx, endpoint.String())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var raw []rawStation
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		metrics.DirectoryRequests.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("failed to decode stations from %s: %w", server, err)
	}

	stations := make([]types.Station, 0, len(raw))
	for _, rs := range raw {
		stations = append(stations, rs.toStation())
	}
	return stations, nil
}

// ResolveURL asks the directory for the canonical stream URL of a station.
// This also counts as a click for the station on the directory side.
// There is no retry; any failure is returned wrapped in ErrUnavailable.
func (c *Client) ResolveURL(ctx context.Context, stationID string) (string, error) {
	server := c.servers.RandomServer(ctx)
	endpoint := url.URL{
		Scheme: c.opts.Scheme,
		Host:   server,
		Path:   "/json/url/" + url.PathEscape(stationID),
	}

	body, err := c.get(ctx, endpoint.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer body.Close()

	var answer struct {
		OK  bool   `json:"ok"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(body).Decode(&answer); err != nil {
		return "", fmt.Errorf("%w: failed to decode url answer: %v", ErrUnavailable, err)
	}
	if !answer.OK || answer.URL == "" {
		return "", fmt.Errorf("%w: no url for station %s", ErrUnavailable, stationID)
	}
	return answer.URL, nil
}

// get sends a rate limited GET and returns the body of a 2xx answer
func (c *Client) get(ctx context.Context, target string) (io.ReadCloser, error) {
	c.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.DirectoryRequests.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		metrics.DirectoryRequests.WithLabelValues("status").Inc()
		return nil, fmt.Errorf("%s answered %s", req.URL.Host, resp.Status)
	}

	metrics.DirectoryRequests.WithLabelValues("ok").Inc()
	return resp.Body, nil
}
