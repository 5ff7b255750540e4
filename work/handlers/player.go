package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"radio-relay/work/logger"
	"radio-relay/work/types"
)

// maxStationBody bounds a station JSON body
const maxStationBody = 64 * 1024

// HandlePlayerGet answers the session status (type=status, the default) or
// the title the player reports (type=playlist)
func HandlePlayerGet(p PlayerControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch kind := r.URL.Query().Get("type"); kind {
		case "", "status":
			st, err := p.Status(r.Context())
			if err != nil {
				logger.Error("{handlers/player - HandlePlayerGet} status failed: %v", err)
				writeError(w, http.StatusInternalServerError, "API request failed.")
				return
			}
			writeJSON(w, http.StatusOK, st)

		case "playlist":
			title, err := p.NowPlaying(r.Context())
			if err != nil {
				logger.Error("{handlers/player - HandlePlayerGet} now playing failed: %v", err)
				writeError(w, http.StatusInternalServerError, "API request failed.")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"nowPlaying": title})

		default:
			writeError(w, http.StatusBadRequest, "unknown type "+kind)
		}
	}
}

// HandlePlayerPlay starts the station in the request body on the player
func HandlePlayerPlay(p PlayerControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		station, ok := decodeStation(w, r)
		if !ok {
			return
		}

		if err := p.Play(r.Context(), station); err != nil {
			logger.Error("{handlers/player - HandlePlayerPlay} play %s failed: %v", station.Name, err)
			writeError(w, http.StatusInternalServerError, "API request failed.")
			return
		}

		writeJSON(w, http.StatusOK, map[string]types.Station{"data": station})
	}
}

// HandlePlayerStop stops the player and empties its playlist
func HandlePlayerStop(p PlayerControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"playback": false, "data": struct{}{}}

		if err := p.Stop(r.Context()); err != nil {
			logger.Error("{handlers/player - HandlePlayerStop} stop failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, body)
			return
		}

		writeJSON(w, http.StatusOK, body)
	}
}

// decodeStation reads a station body and checks it names a playable URL.
// It writes the 400 itself and reports false on failure.
func decodeStation(w http.ResponseWriter, r *http.Request) (types.Station, bool) {
	var station types.Station
	if err := json.NewDecoder(io.LimitReader(r.Body, maxStationBody)).Decode(&station); err != nil {
		writeError(w, http.StatusBadRequest, "invalid station body")
		return station, false
	}

	u, err := url.Parse(station.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "station url must be http or https")
		return station, false
	}
	return station, true
}
