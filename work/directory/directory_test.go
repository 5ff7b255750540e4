package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/ratelimit"

	"radio-relay/work/cache"
	"radio-relay/work/client"
)

// staticPicker always returns the same host and records how often it was asked
type staticPicker struct {
	host  string
	picks atomic.Int32
}

func (p *staticPicker) RandomServer(context.Context) string {
	p.picks.Add(1)
	return p.host
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *staticPicker, *cache.QueryCache) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	picker := &staticPicker{host: strings.TrimPrefix(srv.URL, "http://")}
	qc := cache.NewQueryCache(24 * time.Hour)
	doer := client.NewHeaderSettingClient(client.NewAPIClient(2*time.Second), map[string]string{
		"User-Agent":   "InternetRadioApp/1.0",
		"Content-Type": "application/json",
	})

	c := New(doer, picker, qc, ratelimit.NewUnlimited(), Options{Scheme: "http", MaxRetries: 3, DefaultLimit: 24})
	return c, picker, qc
}

func stationsJSON(t *testing.T, raw []rawStation) []byte {
	t.Helper()
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	return b
}

func TestSearchSendsExpectedRequestAndMapsStations(t *testing.T) {
	var seen *http.Request
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.Write(stationsJSON(t, []rawStation{
			{StationUUID: "s1", Name: "Jazz", URL: "http://raw/1", URLResolved: "http://resolved/1", Favicon: "http://icon", Bitrate: 128},
			{StationUUID: "s2", Name: "Rock", URL: "http://raw/2"},
		}))
	}))

	got, err := c.Search(context.Background(), Query{Name: "  JaZz ", Tag: "Smooth"})
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, "/json/stations/search", seen.URL.Path)
	q := seen.URL.Query()
	assert.Equal(t, "jazz", q.Get("name"))
	assert.Equal(t, "smooth", q.Get("tag"))
	assert.Equal(t, "24", q.Get("limit"))
	assert.Equal(t, "0", q.Get("offset"))
	assert.Equal(t, "true", q.Get("hidebroken"))
	assert.Equal(t, "clickcount", q.Get("order"))
	assert.Equal(t, "true", q.Get("reverse"))
	assert.Equal(t, "InternetRadioApp/1.0", seen.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", seen.Header.Get("Content-Type"))

	require.Len(t, got, 2)
	assert.Equal(t, "http://resolved/1", got[0].URL)
	assert.Equal(t, "http://icon", got[0].Favicon)
	assert.Equal(t, 128, got[0].Bitrate)
	assert.Equal(t, "http://raw/2", got[1].URL)
	assert.Equal(t, "", got[1].Favicon)
}

func TestSearchServesRepeatFromCache(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(stationsJSON(t, []rawStation{{StationUUID: "s1", URL: "http://a"}}))
	}))

	_, err := c.Search(context.Background(), Query{Name: "jazz"})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), Query{Name: "JAZZ"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchDoesNotCacheEmptyResults(t *testing.T) {
	var calls atomic.Int32
	c, _, qc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("[]"))
	}))

	got, err := c.Search(context.Background(), Query{Name: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, qc.Len())

	_, err = c.Search(context.Background(), Query{Name: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchGivesUpAfterFourRequests(t *testing.T) {
	var calls atomic.Int32
	c, picker, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.Search(context.Background(), Query{Name: "jazz"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int32(4), picker.picks.Load())
}

func TestSearchRecoversFromTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(stationsJSON(t, []rawStation{{StationUUID: "s1", URL: "http://a"}}))
	}))

	got, err := c.Search(context.Background(), Query{Tag: "news"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryBudgetIsPerCall(t *testing.T) {
	var mu sync.Mutex
	failing := true
	var calls atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(stationsJSON(t, []rawStation{{StationUUID: "s1", URL: "http://a"}}))
	}))

	_, err := c.Search(context.Background(), Query{Name: "a"})
	require.ErrorIs(t, err, ErrUnavailable)

	// a fresh call gets the full budget again
	mu.Lock()
	failing = false
	mu.Unlock()
	_, err = c.Search(context.Background(), Query{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(5), calls.Load())
}

func TestSearchStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, Query{Name: "jazz"})
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestResolveURL(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/url/abc-123" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"ok":true,"message":"retrieved station url","url":"http://stream.example/live"}`))
	}))

	got, err := c.ResolveURL(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "http://stream.example/live", got)
}

func TestResolveURLDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.ResolveURL(context.Background(), "abc")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueryKeyIsCaseInsensitiveForText(t *testing.T) {
	a := Query{Name: "Jazz", Tag: "Smooth"}.Key(24)
	b := Query{Name: "jazz ", Tag: "SMOOTH", Limit: 24}.Key(24)
	c := Query{Name: "jazz", Tag: "smooth", Offset: 24}.Key(24)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
