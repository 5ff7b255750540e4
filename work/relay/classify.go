package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"

	"github.com/grafana/regexp"

	"radio-relay/work/netguard"
)

// protocolErrorPattern matches the messages net/http produces when a server
// answers with something that is not quite HTTP: ICY status lines, broken
// headers, bogus chunk framing, or a connection cut mid-response
var protocolErrorPattern = regexp.MustCompile(
	`(?i)malformed HTTP|malformed MIME|bad status|invalid (header|status|chunk|byte)|chunked|unexpected EOF|server gave HTTP response|connection reset by peer|transport connection broken`,
)

// IsProtocolError is the single decision point between the relay paths. It
// reports whether err came from a response the raw socket path can still
// serve. Errors that would fail the same way on a raw socket (DNS, refused
// connections, timeouts, cancellation, policy) are not protocol errors.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}

	// never retry what the listener or the policy stopped
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, netguard.ErrInvalidInput) {
		return false
	}

	// an upstream status is an answer, not a parse failure
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}

	// certificate problems are relaxed on the socket path
	var verifyErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	return protocolErrorPattern.MatchString(err.Error())
}
