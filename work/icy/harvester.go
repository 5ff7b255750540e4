package icy

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/regexp"

	"radio-relay/work/config"
	"radio-relay/work/logger"
	"radio-relay/work/netguard"
	"radio-relay/work/utils"
)

// ErrNoMetadata means the stream produced no usable title within the time limit
var ErrNoMetadata = errors.New("no stream metadata")

// maxEmptyBlocks bounds how many zero-length metadata blocks are skipped
// while waiting for a title
const maxEmptyBlocks = 8

// metaPairPattern matches one key='value'; pair of an ICY metadata block
var metaPairPattern = regexp.MustCompile(`(\w+)='(.*?)';`)

// Harvester opens a stream just long enough to read its first non-empty ICY
// metadata block. Unlike the relay's socket fallback it verifies TLS
// certificates.
type Harvester struct {
	guard     *netguard.Guard // validates the URL and every dialed address
	timeout   time.Duration   // hard bound on one harvest, dial included
	userAgent string          // sent with the metadata request
	network   string          // forced to tcp4 like the relay fallback
	rootCAs   *x509.CertPool  // nil uses the system roots
}

// NewHarvester creates a harvester dialing through guard
func NewHarvester(guard *netguard.Guard, cfg *config.Config) *Harvester {
	return &Harvester{
		guard:     guard,
		timeout:   cfg.Metadata.Timeout,
		userAgent: cfg.Relay.FallbackUserAgent,
		network:   "tcp4",
	}
}

// Harvest returns the StreamTitle of rawURL.
//
// Parameters:
//   - ctx: caller context, further bounded by the harvest timeout
//   - rawURL: listener supplied stream URL
//
// Returns:
//   - string: the current title
//   - error: netguard.ErrInvalidInput for refused URLs, ErrNoMetadata when
//     the stream carries no title in time, or the connection error
func (h *Harvester) Harvest(ctx context.Context, rawURL string) (string, error) {
	u, err := h.guard.ValidateURL(rawURL)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	conn, err := h.dial(ctx, u)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: connect timed out", ErrNoMetadata)
		}
		return "", fmt.Errorf("metadata connect to %s failed: %w", u.Host, err)
	}
	defer conn.Close()

	// the deadline covers reads blocked in the kernel, the AfterFunc covers cancellation
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, buildRequest(u, h.userAgent)); err != nil {
		return "", fmt.Errorf("metadata request to %s failed: %w", u.Host, err)
	}

	title, err := readTitle(bufio.NewReader(conn))
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrNoMetadata, err)
		}
		return "", err
	}

	logger.Debug("{icy/harvester - Harvest} %s is playing %q", utils.LogURL(u.String()), title)
	return title, nil
}

func (h *Harvester) dial(ctx context.Context, u *url.URL) (net.Conn, error) {
	dialer := h.guard.Dialer(h.timeout)
	addr := hostPort(u)

	if u.Scheme == "https" {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName: u.Hostname(),
				RootCAs:    h.rootCAs,
				MinVersion: tls.VersionTLS12,
			},
		}
		return tlsDialer.DialContext(ctx, h.network, addr)
	}
	return dialer.DialContext(ctx, h.network, addr)
}

func buildRequest(u *url.URL, userAgent string) string {
	target := u.RequestURI()
	return fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %s\r\nUser-Agent: %s\r\nIcy-MetaData: 1\r\nConnection: close\r\n\r\n", target, u.Host, userAgent)
}

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

// readTitle parses the response head, skips audio up to each metadata block
// and returns the first StreamTitle found
func readTitle(br *bufio.Reader) (string, error) {
	resp, err := readResponse(br)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("stream answered %s", resp.Status)
	}

	metaint, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Icy-Metaint")))
	if err != nil || metaint <= 0 {
		return "", fmt.Errorf("%w: stream does not interleave metadata", ErrNoMetadata)
	}

	body := bufio.NewReader(resp.Body)
	for range maxEmptyBlocks {
		block, err := readBlock(body, metaint)
		if err != nil {
			return "", err
		}
		if len(block) == 0 {
			continue
		}
		if title := ParseMetadata(block)["StreamTitle"]; title != "" {
			return title, nil
		}
		return "", fmt.Errorf("%w: block without StreamTitle", ErrNoMetadata)
	}

	return "", fmt.Errorf("%w: only empty blocks", ErrNoMetadata)
}

// readResponse reads the status line and headers. Shoutcast servers answer
// "ICY 200 OK", which is rewritten to HTTP/1.0 so net/http can parse the rest.
func readResponse(br *bufio.Reader) (*http.Response, error) {
	status, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read status line: %w", err)
	}
	if strings.HasPrefix(status, "ICY ") {
		status = "HTTP/1.0 " + strings.TrimPrefix(status, "ICY ")
	}

	head := bufio.NewReader(io.MultiReader(strings.NewReader(status), br))
	resp, err := http.ReadResponse(head, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream response: %w", err)
	}
	return resp, nil
}

// readBlock discards metaint audio bytes and returns the metadata block after them
func readBlock(r *bufio.Reader, metaint int) (string, error) {
	if _, err := r.Discard(metaint); err != nil {
		return "", fmt.Errorf("failed to skip audio: %w", err)
	}

	lenByte, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("failed to read metadata length: %w", err)
	}

	size := int(lenByte) * 16
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read metadata block: %w", err)
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// ParseMetadata splits an ICY metadata block into its key='value'; pairs
func ParseMetadata(block string) map[string]string {
	out := make(map[string]string)
	for _, m := range metaPairPattern.FindAllStringSubmatch(block, -1) {
		out[m[1]] = m[2]
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
