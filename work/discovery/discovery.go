package discovery

import (
	"context"
	"math/rand/v2"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"radio-relay/work/config"
	"radio-relay/work/logger"
	"radio-relay/work/metrics"
)

// SRVResolver is the part of *net.Resolver discovery needs
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// Options controls where and how often the server pool is resolved.
type Options struct {
	Service         string        // SRV service label
	Proto           string        // SRV protocol label
	Domain          string        // domain holding the SRV records
	Fallback        []string      // returned whenever resolution fails
	RefreshInterval time.Duration // pool age that triggers a new lookup
	LookupTimeout   time.Duration // bound on one lookup
}

// OptionsFromConfig maps the directory section of the config to Options
func OptionsFromConfig(cfg config.DirectoryConfig) Options {
	return Options{
		Service:         cfg.SRVService,
		Proto:           cfg.SRVProto,
		Domain:          cfg.SRVDomain,
		Fallback:        cfg.FallbackServers,
		RefreshInterval: cfg.RefreshInterval,
		LookupTimeout:   cfg.LookupTimeout,
	}
}

// Discovery keeps the pool of directory API hostnames. The pool is only ever
// replaced as a whole, and only by a successful SRV lookup; a failed lookup
// answers with the fallback list and leaves the pool untouched.
type Discovery struct {
	resolver SRVResolver
	opts     Options

	mu          sync.RWMutex // guards servers and generatedAt
	servers     []string     // last successfully resolved hostnames
	generatedAt time.Time    // when servers was resolved

	group singleflight.Group // collapses concurrent refreshes into one lookup
	now   func() time.Time
	pick  func(n int) int
}

// New creates a Discovery resolving through resolver. The pool starts empty
// so the first call performs a lookup.
func New(resolver SRVResolver, opts Options) *Discovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Discovery{
		resolver: resolver,
		opts:     opts,
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Servers returns the current server hostnames.
//
// Behavior:
//   - a pool younger than the refresh interval is returned as is
//   - otherwise one SRV lookup runs, shared by all concurrent callers
//   - when the lookup fails or answers nothing, the fallback list is returned
//     and the cached pool, if any, is kept for later calls
//
// The returned slice is a copy and may be modified by the caller.
func (d *Discovery) Servers(ctx context.Context) []string {
	if servers, fresh := d.cached(); fresh {
		return servers
	}

	v, _, _ := d.group.Do("refresh", func() (any, error) {
		// another caller may have refreshed while we waited
		if servers, fresh := d.cached(); fresh {
			return servers, nil
		}
		return d.refresh(ctx), nil
	})

	return slices.Clone(v.([]string))
}

// RandomServer picks one hostname uniformly from Servers.
// It returns an empty string only when the fallback list is empty as well.
func (d *Discovery) RandomServer(ctx context.Context) string {
	servers := d.Servers(ctx)
	if len(servers) == 0 {
		return ""
	}
	return servers[d.pick(len(servers))]
}

// cached returns a copy of the pool and whether it is still fresh
func (d *Discovery) cached() ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.servers) == 0 || d.now().Sub(d.generatedAt) > d.opts.RefreshInterval {
		return nil, false
	}
	return slices.Clone(d.servers), true
}

// refresh performs the SRV lookup and installs the result on success
func (d *Discovery) refresh(ctx context.Context) []string {
	lookupCtx := ctx
	if d.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, d.opts.LookupTimeout)
		defer cancel()
	}

	_, records, err := d.resolver.LookupSRV(lookupCtx, d.opts.Service, d.opts.Proto, d.opts.Domain)
	servers := hostnames(records)
	if err != nil || len(servers) == 0 {
		logger.Warn("{discovery - refresh} SRV lookup for _%s._%s.%s failed, using fallback servers: %v",
			d.opts.Service, d.opts.Proto, d.opts.Domain, err)
		metrics.DiscoveryRefreshes.WithLabelValues("fallback").Inc()
		return slices.Clone(d.opts.Fallback)
	}

	// acquire write lock and swap the pool in one step
	d.mu.Lock()
	d.servers = servers
	d.generatedAt = d.now()
	d.mu.Unlock()

	metrics.DiscoveryRefreshes.WithLabelValues("srv").Inc()
	logger.Debug("{discovery - refresh} resolved %d directory servers: %s", len(servers), strings.Join(servers, ", "))

	return slices.Clone(servers)
}

// hostnames turns SRV targets into bare hostnames, dropping the trailing dot
// and duplicates while keeping the resolver's order
func hostnames(records []*net.SRV) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		host := strings.TrimSuffix(rec.Target, ".")
		if host == "" || slices.Contains(out, host) {
			continue
		}
		out = append(out, host)
	}
	return out
}
