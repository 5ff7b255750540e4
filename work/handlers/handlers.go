package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"radio-relay/work/directory"
	"radio-relay/work/logger"
	"radio-relay/work/middleware"
	"radio-relay/work/relay"
	"radio-relay/work/types"
)

// StationDirectory searches the station directory
type StationDirectory interface {
	Search(ctx context.Context, q directory.Query) ([]types.Station, error)
	ResolveURL(ctx context.Context, stationID string) (string, error)
}

// StreamOpener opens a listener supplied stream URL
type StreamOpener interface {
	Open(ctx context.Context, rawURL string) (*relay.Upstream, error)
}

// StreamInfo reports the current title of a stream
type StreamInfo interface {
	GetStreamInfo(ctx context.Context, streamURL string) (string, error)
}

// PlayerControl drives the remote player session
type PlayerControl interface {
	Play(ctx context.Context, station types.Station) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (types.PlayerStatus, error)
	NowPlaying(ctx context.Context) (string, error)
}

// FavoritesStore persists pinned stations
type FavoritesStore interface {
	GetFavorites(ctx context.Context) ([]types.Favorite, error)
	AddFavorite(ctx context.Context, station types.Station) (types.Favorite, error)
	RemoveFavorite(ctx context.Context, stationID string) error
}

// Deps are the components the HTTP surface is wired to. Player and
// Favorites may be nil, in which case their routes are not registered.
type Deps struct {
	Directory StationDirectory
	Relay     StreamOpener
	Registry  *relay.Registry
	Info      StreamInfo
	Player    PlayerControl
	Favorites FavoritesStore
}

// SetupRoutes registers every API route on router.
//
// Parameters:
//   - router: mux router to register on
//   - deps: wired components
func SetupRoutes(router *mux.Router, deps Deps) {
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/stations", corsMiddleware(middleware.GzipMiddleware(HandleStations(deps.Directory)))).Methods("GET", "OPTIONS")
	api.HandleFunc("/stations/{id}/url", corsMiddleware(HandleStationURL(deps.Directory))).Methods("GET", "OPTIONS")

	// never compressed, the body is live audio
	api.HandleFunc("/proxy", corsMiddleware(HandleProxy(deps.Relay, deps.Registry))).Methods("GET", "OPTIONS")
	api.HandleFunc("/relays", corsMiddleware(middleware.GzipMiddleware(HandleRelays(deps.Registry)))).Methods("GET", "OPTIONS")

	api.HandleFunc("/info", corsMiddleware(HandleInfo(deps.Info))).Methods("GET", "OPTIONS")

	if deps.Player != nil {
		api.HandleFunc("/player", corsMiddleware(HandlePlayerGet(deps.Player))).Methods("GET", "OPTIONS")
		api.HandleFunc("/player", corsMiddleware(HandlePlayerPlay(deps.Player))).Methods("POST", "OPTIONS")
		api.HandleFunc("/player", corsMiddleware(HandlePlayerStop(deps.Player))).Methods("DELETE", "OPTIONS")
	}

	if deps.Favorites != nil {
		api.HandleFunc("/favorites", corsMiddleware(middleware.GzipMiddleware(HandleFavoritesList(deps.Favorites)))).Methods("GET", "OPTIONS")
		api.HandleFunc("/favorites", corsMiddleware(HandleFavoritesAdd(deps.Favorites))).Methods("POST", "OPTIONS")
		api.HandleFunc("/favorites", corsMiddleware(HandleFavoritesRemove(deps.Favorites))).Methods("DELETE", "OPTIONS")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// corsMiddleware lets a browser front end on another origin call the API
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

// writeError sends {"error": msg}
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
