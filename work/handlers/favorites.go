package handlers

import (
	"errors"
	"net/http"

	"radio-relay/work/database"
	"radio-relay/work/logger"
)

// HandleFavoritesList answers {"data": [favorites]}, oldest first
func HandleFavoritesList(store FavoritesStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		favorites, err := store.GetFavorites(r.Context())
		if err != nil {
			logger.Error("{handlers/favorites - HandleFavoritesList} %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": favorites})
	}
}

// HandleFavoritesAdd pins the station in the request body
func HandleFavoritesAdd(store FavoritesStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		station, ok := decodeStation(w, r)
		if !ok {
			return
		}
		if station.StationID == "" || station.Name == "" {
			writeError(w, http.StatusBadRequest, "station_id and name are required")
			return
		}

		fav, err := store.AddFavorite(r.Context(), station)
		switch {
		case errors.Is(err, database.ErrFavoriteExists):
			writeError(w, http.StatusConflict, "already a favorite")
		case err != nil:
			logger.Error("{handlers/favorites - HandleFavoritesAdd} %v", err)
			writeError(w, http.StatusInternalServerError, "API request failed.")
		default:
			writeJSON(w, http.StatusCreated, map[string]any{"data": fav})
		}
	}
}

// HandleFavoritesRemove unpins the station named by station_id
func HandleFavoritesRemove(store FavoritesStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeInput(r.URL.Query().Get("station_id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing station_id")
			return
		}

		err := store.RemoveFavorite(r.Context(), id)
		switch {
		case errors.Is(err, database.ErrFavoriteNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "No favorite found with station_id: " + id})
		case err != nil:
			logger.Error("{handlers/favorites - HandleFavoritesRemove} %v", err)
			writeError(w, http.StatusInternalServerError, "API request failed.")
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Deleted favorite with station_id: " + id})
		}
	}
}
