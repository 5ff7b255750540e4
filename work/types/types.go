package types

import "time"

// Station is one radio station as returned by the directory service, already
// mapped to the fields the relay and player care about. It is immutable once
// fetched; callers copy it rather than mutate it.
type Station struct {
	StationID string `json:"station_id"` // directory UUID of the station
	Name      string `json:"name"`       // display name
	URL       string `json:"url"`        // resolved stream URL, falls back to the raw URL
	Favicon   string `json:"favicon"`    // logo URL, empty when the directory has none
	Tags      string `json:"tags"`       // comma separated tags as the directory returns them
	Codec     string `json:"codec"`      // audio codec, e.g. MP3 or AAC
	Bitrate   int    `json:"bitrate"`    // kbit/s, 0 when unknown
}

// Favorite is a station the user pinned, with the time it was pinned.
type Favorite struct {
	Station
	CreatedAt time.Time `json:"created_at"`
}

// PlaybackState is the observable state of the remote player session.
type PlaybackState string

const (
	StateStopped PlaybackState = "STOPPED"
	StatePlaying PlaybackState = "PLAYING"
)

// PlayerStatus is what the player API reports to callers: whether the remote
// player is producing audio and, if so, which station it was asked to play.
type PlayerStatus struct {
	Playback bool     `json:"playback"`
	Data     *Station `json:"data"`
}
