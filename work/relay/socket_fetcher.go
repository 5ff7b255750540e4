package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"radio-relay/work/config"
	"radio-relay/work/logger"
	"radio-relay/work/netguard"
	"radio-relay/work/utils"
)

// SocketFetcher is the fallback relay path. It speaks just enough HTTP/1.1
// to ask for the stream and then hands back every byte the server sends,
// status line and headers included, without parsing any of it.
type SocketFetcher struct {
	guard          *netguard.Guard
	userAgent      string
	connectTimeout time.Duration
	idleTimeout    time.Duration
	network        string
}

// NewSocketFetcher builds the fallback path from the relay config. It dials
// IPv4 only, and for https it skips certificate verification.
func NewSocketFetcher(guard *netguard.Guard, cfg config.RelayConfig) *SocketFetcher {
	return &SocketFetcher{
		guard:          guard,
		userAgent:      cfg.FallbackUserAgent,
		connectTimeout: cfg.ConnectTimeout,
		idleTimeout:    cfg.ConnectTimeout,
		network:        "tcp4",
	}
}

// Fetch dials u's host, writes a minimal GET and returns the raw connection
func (f *SocketFetcher) Fetch(ctx context.Context, u *url.URL) (*Upstream, error) {
	addr := hostPort(u)

	// the dialer carries the connect timeout and the address guard
	dialer := f.guard.Dialer(f.connectTimeout)

	var (
		conn net.Conn
		err  error
	)
	if u.Scheme == "https" {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName:         u.Hostname(),
				InsecureSkipVerify: true, // self-signed stream servers are common
			},
		}
		conn, err = tlsDialer.DialContext(ctx, f.network, addr)
	} else {
		conn, err = dialer.DialContext(ctx, f.network, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("socket connect to %s failed: %w", addr, err)
	}

	// bound the request write by the same timeout as the connect
	conn.SetDeadline(time.Now().Add(f.connectTimeout))
	if _, err := fmt.Fprint(conn, buildRequest(u, f.userAgent)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socket write to %s failed: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})

	logger.Debug("{relay/socket_fetcher - Fetch} raw request sent to %s", utils.LogURL(u.String()))

	// listener gone means upstream gone
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	body := &socketBody{conn: conn, idle: f.idleTimeout, stop: stop}

	return &Upstream{
		Body:        body,
		ContentType: DefaultContentType,
		Path:        PathSocket,
		URL:         u,
	}, nil
}

// buildRequest renders the hand-built request line and headers
func buildRequest(u *url.URL, userAgent string) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n\r\n", target, u.Host, userAgent)
}

// hostPort returns host:port with the scheme's default port filled in
func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// socketBody exposes the raw connection as a body. Each read must make
// progress within the idle timeout, and closing is safe from any goroutine.
type socketBody struct {
	conn      net.Conn
	idle      time.Duration
	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

func (b *socketBody) Read(p []byte) (int, error) {
	if b.idle > 0 {
		b.conn.SetReadDeadline(time.Now().Add(b.idle))
	}
	return b.conn.Read(p)
}

func (b *socketBody) Close() error {
	b.closeOnce.Do(func() {
		b.stop()
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}
