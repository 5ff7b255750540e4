package handlers

import (
	"errors"
	"net/http"

	"radio-relay/work/logger"
	"radio-relay/work/metrics"
	"radio-relay/work/netguard"
	"radio-relay/work/relay"
	"radio-relay/work/utils"
)

// HandleProxy relays the stream named by the url parameter to the listener.
// Headers are committed as soon as the upstream is open; the body is then
// copied chunk by chunk until either side goes away.
func HandleProxy(opener StreamOpener, registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := r.URL.Query().Get("url")
		if rawURL == "" {
			writeError(w, http.StatusBadRequest, "missing url parameter")
			return
		}

		session, ok := registry.Acquire(rawURL, r.RemoteAddr)
		if !ok {
			logger.Warn("{handlers/proxy - HandleProxy} relay limit reached, refusing %s", r.RemoteAddr)
			writeError(w, http.StatusServiceUnavailable, "too many active relays")
			return
		}
		defer registry.Release(session.ID)

		ctx := r.Context()
		up, err := opener.Open(ctx, rawURL)
		if err != nil {
			if errors.Is(err, netguard.ErrInvalidInput) {
				logger.Warn("{handlers/proxy - HandleProxy} refused %s: %v", utils.LogURL(rawURL), err)
				writeError(w, http.StatusBadRequest, "invalid stream url")
				return
			}
			logger.Error("{handlers/proxy - HandleProxy} %s: %v", utils.LogURL(rawURL), err)
			writeError(w, http.StatusBadGateway, "stream unavailable")
			return
		}
		defer up.Body.Close()

		session.SetPath(up.Path)

		w.Header().Set("Content-Type", up.ContentType)
		w.Header().Set("Cache-Control", "no-cache, no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}

		gauge := metrics.ActiveRelays.WithLabelValues(up.Path)
		gauge.Inc()
		defer gauge.Dec()

		logger.Debug("{handlers/proxy - HandleProxy} relaying %s via %s to %s", utils.LogURL(up.URL.String()), up.Path, r.RemoteAddr)

		n, err := relay.Pump(ctx, w, flusher, up, session)
		if err != nil {
			logger.Debug("{handlers/proxy - HandleProxy} relay of %s ended after %s: %v", utils.LogURL(rawURL), utils.FormatBytes(n), err)
			return
		}
		logger.Debug("{handlers/proxy - HandleProxy} relay of %s finished, %s sent", utils.LogURL(rawURL), utils.FormatBytes(n))
	}
}

// HandleRelays lists the active relay sessions
func HandleRelays(registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.Snapshot())
	}
}
