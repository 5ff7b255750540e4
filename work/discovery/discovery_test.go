package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fallback = []string{"de1.api.radio-browser.info", "nl1.api.radio-browser.info", "at1.api.radio-browser.info"}

// fakeResolver answers SRV lookups from a scripted result
type fakeResolver struct {
	mu      sync.Mutex
	records []*net.SRV
	err     error
	calls   int
	query   string
}

func (f *fakeResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.query = "_" + service + "._" + proto + "." + name
	return "", f.records, f.err
}

func (f *fakeResolver) set(records []*net.SRV, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDiscovery(r SRVResolver) (*Discovery, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	d := New(r, Options{
		Service:         "api",
		Proto:           "tcp",
		Domain:          "radio-browser.info",
		Fallback:        fallback,
		RefreshInterval: time.Hour,
		LookupTimeout:   time.Second,
	})
	d.now = func() time.Time { return now }
	return d, &now
}

func srv(targets ...string) []*net.SRV {
	out := make([]*net.SRV, 0, len(targets))
	for _, t := range targets {
		out = append(out, &net.SRV{Target: t, Port: 443})
	}
	return out
}

func TestServersResolvesAndCaches(t *testing.T) {
	r := &fakeResolver{records: srv("fi1.api.radio-browser.info.", "de2.api.radio-browser.info.", "fi1.api.radio-browser.info.")}
	d, _ := newTestDiscovery(r)

	got := d.Servers(context.Background())
	assert.Equal(t, []string{"fi1.api.radio-browser.info", "de2.api.radio-browser.info"}, got)
	assert.Equal(t, "_api._tcp.radio-browser.info", r.query)

	d.Servers(context.Background())
	assert.Equal(t, 1, r.callCount())
}

func TestServersRefreshesAfterInterval(t *testing.T) {
	r := &fakeResolver{records: srv("a.example.")}
	d, now := newTestDiscovery(r)

	d.Servers(context.Background())
	*now = now.Add(61 * time.Minute)
	r.set(srv("b.example."), nil)

	assert.Equal(t, []string{"b.example"}, d.Servers(context.Background()))
	assert.Equal(t, 2, r.callCount())
}

func TestServersFallbackOnFailureWithoutPool(t *testing.T) {
	r := &fakeResolver{err: errors.New("no such host")}
	d, _ := newTestDiscovery(r)

	assert.Equal(t, fallback, d.Servers(context.Background()))

	d.mu.RLock()
	defer d.mu.RUnlock()
	assert.Empty(t, d.servers)
}

func TestFailedRefreshKeepsPreviousPool(t *testing.T) {
	r := &fakeResolver{records: srv("a.example.", "b.example.")}
	d, now := newTestDiscovery(r)
	d.Servers(context.Background())

	*now = now.Add(2 * time.Hour)
	r.set(nil, errors.New("timeout"))

	assert.Equal(t, fallback, d.Servers(context.Background()))

	d.mu.RLock()
	assert.Equal(t, []string{"a.example", "b.example"}, d.servers)
	d.mu.RUnlock()

	// lookup recovers, pool is replaced wholesale
	r.set(srv("c.example."), nil)
	assert.Equal(t, []string{"c.example"}, d.Servers(context.Background()))
}

func TestEmptyAnswerCountsAsFailure(t *testing.T) {
	r := &fakeResolver{records: []*net.SRV{}}
	d, _ := newTestDiscovery(r)
	assert.Equal(t, fallback, d.Servers(context.Background()))
}

func TestServersReturnsCopy(t *testing.T) {
	r := &fakeResolver{records: srv("a.example.")}
	d, _ := newTestDiscovery(r)

	got := d.Servers(context.Background())
	got[0] = "mutated"
	assert.Equal(t, []string{"a.example"}, d.Servers(context.Background()))
}

func TestRandomServerPicksFromPool(t *testing.T) {
	r := &fakeResolver{records: srv("a.example.", "b.example.", "c.example.")}
	d, _ := newTestDiscovery(r)
	d.pick = func(n int) int {
		require.Equal(t, 3, n)
		return 2
	}

	assert.Equal(t, "c.example", d.RandomServer(context.Background()))
}

func TestRandomServerEmptyWhenNothingKnown(t *testing.T) {
	d := New(&fakeResolver{err: errors.New("down")}, Options{RefreshInterval: time.Hour})
	assert.Equal(t, "", d.RandomServer(context.Background()))
}
