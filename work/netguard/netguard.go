package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrInvalidInput is returned for URLs the relay refuses to touch
var ErrInvalidInput = errors.New("invalid input")

// blockedPrefixes are ranges a listener must never reach through the relay.
// The netip predicates cover loopback, link-local, multicast, unspecified and
// RFC 1918 / fc00::/7 private space; this list adds what they miss.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),          // "this network"
	netip.MustParsePrefix("100.64.0.0/10"),      // carrier grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),       // IETF protocol assignments
	netip.MustParsePrefix("198.18.0.0/15"),      // benchmarking
	netip.MustParsePrefix("240.0.0.0/4"),        // reserved
	netip.MustParsePrefix("255.255.255.255/32"), // limited broadcast
	netip.MustParsePrefix("64:ff9b::/96"),       // NAT64, may map onto private v4
	netip.MustParsePrefix("2001:db8::/32"),      // documentation
	netip.MustParsePrefix("fec0::/10"),          // deprecated site-local
}

// Guard decides which upstream URLs and addresses may be contacted.
type Guard struct {
	// AllowPrivate disables the address checks, the scheme check still applies
	AllowPrivate bool
}

// ValidateURL parses raw and checks it without any network traffic.
//
// Rules:
//   - scheme must be http or https
//   - a host must be present
//   - a literal IP host must not be in blocked address space
//   - "localhost" and names under it are refused outright
//
// Hostnames are resolved later; DialContext re-checks the address actually
// dialed, which also covers names that resolve into private space.
func (g *Guard) ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidInput)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url: %v", ErrInvalidInput, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidInput, u.Scheme)
	}
	u.Scheme = scheme

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidInput)
	}

	if g.AllowPrivate {
		return u, nil
	}

	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return nil, fmt.Errorf("%w: host %q not allowed", ErrInvalidInput, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if err := g.CheckAddr(addr); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// CheckAddr reports whether addr may be dialed
func (g *Guard) CheckAddr(addr netip.Addr) error {
	if g.AllowPrivate {
		return nil
	}
	if IsBlocked(addr) {
		return fmt.Errorf("%w: address %s is not publicly routable", ErrInvalidInput, addr)
	}
	return nil
}

// IsBlocked reports whether addr lies in address space the relay refuses
func IsBlocked(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()
	if addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Dialer returns a net.Dialer whose Control hook refuses blocked addresses.
// The check runs on the resolved address right before connect, so DNS
// answers cannot smuggle a private target past ValidateURL.
func (g *Guard) Dialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			if g.AllowPrivate {
				return nil
			}
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("%w: unparsable dial address %q", ErrInvalidInput, address)
			}
			return g.CheckAddr(ap.Addr())
		},
	}
}

// DialContext dials through a guarded dialer with the given timeout
func (g *Guard) DialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return g.Dialer(timeout).DialContext
}
