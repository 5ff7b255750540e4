package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"radio-relay/work/directory"
	"radio-relay/work/logger"
)

const (
	// defaultStationsLimit applies when the listener sends no limit
	defaultStationsLimit = 100
	// maxStationsLimit caps a single page
	maxStationsLimit = 500
)

// HandleStations searches the directory.
//
// Query parameters query, tag and country are sanitized free text; limit
// (default 100) and offset must be non-negative integers.
//
// Parameters:
//   - dir: station directory
//
// Returns:
//   - http.HandlerFunc: handler answering a JSON array of stations
func HandleStations(dir StationDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		limit, err := intParam(params.Get("limit"), defaultStationsLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		offset, err := intParam(params.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		if limit > maxStationsLimit {
			limit = maxStationsLimit
		}

		q := directory.Query{
			Name:    SanitizeInput(params.Get("query")),
			Tag:     SanitizeInput(params.Get("tag")),
			Country: SanitizeInput(params.Get("country")),
			Limit:   limit,
			Offset:  offset,
		}

		stations, err := dir.Search(r.Context(), q)
		if err != nil {
			logger.Error("{handlers/stations - HandleStations} search failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch radio stations")
			return
		}

		writeJSON(w, http.StatusOK, stations)
	}
}

// HandleStationURL resolves the canonical stream URL of a station
func HandleStationURL(dir StationDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeInput(mux.Vars(r)["id"])
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing station id")
			return
		}

		streamURL, err := dir.ResolveURL(r.Context(), id)
		if err != nil {
			logger.Error("{handlers/stations - HandleStationURL} resolve %s failed: %v", id, err)
			writeError(w, http.StatusInternalServerError, "Failed to resolve station url")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": streamURL})
	}
}

// intParam parses a non-negative integer parameter, def when empty
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
