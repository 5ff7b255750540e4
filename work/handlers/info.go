package handlers

import (
	"errors"
	"net/http"

	"radio-relay/work/icy"
	"radio-relay/work/logger"
	"radio-relay/work/netguard"
	"radio-relay/work/utils"
)

// HandleInfo answers {"nowPlaying": title} for the stream parameter
func HandleInfo(info StreamInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamURL := r.URL.Query().Get("stream")

		title, err := info.GetStreamInfo(r.Context(), streamURL)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"nowPlaying": title})
		case errors.Is(err, netguard.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid stream url")
		case errors.Is(err, icy.ErrBusy):
			writeError(w, http.StatusServiceUnavailable, "metadata lookups busy")
		default:
			logger.Error("{handlers/info - HandleInfo} %s: %v", utils.LogURL(streamURL), err)
			writeError(w, http.StatusInternalServerError, "API request failed.")
		}
	}
}
