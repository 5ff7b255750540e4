package relay

import (
	"context"
	"errors"
	"io"
	"net/http"

	"radio-relay/work/metrics"
)

// chunkSize is the read size for the copy loop
const chunkSize = 32 * 1024

// Pump copies upstream into w chunk by chunk, flushing after every write so
// a live stream reaches the listener without buffering. It returns when the
// upstream ends (nil error), the context is done (nil error) or a read or
// write fails.
//
// Parameters:
//   - ctx: listener request context
//   - w: listener response, headers already committed
//   - flusher: flush hook for w
//   - up: open upstream
//   - session: optional session for byte accounting
//
// Returns:
//   - int64: bytes forwarded
//   - error: the copy failure, if any
func Pump(ctx context.Context, w io.Writer, flusher http.Flusher, up *Upstream, session *Session) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, nil
		default:
		}

		n, err := up.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				metrics.RelayErrors.WithLabelValues("copy").Inc()
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}

			total += int64(n)
			metrics.BytesRelayed.WithLabelValues(up.Path).Add(float64(n))
			if session != nil {
				session.AddBytes(n)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return total, nil
			}
			metrics.RelayErrors.WithLabelValues("copy").Inc()
			return total, err
		}
	}
}
