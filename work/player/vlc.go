package player

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"radio-relay/work/client"
	"radio-relay/work/config"
	"radio-relay/work/logger"
	"radio-relay/work/metrics"
)

// ErrPlayerControl is returned when the remote player cannot be reached or
// refuses a command
var ErrPlayerControl = errors.New("player control failed")

// maxStatusSize bounds the status document read from the player
const maxStatusSize = 1 << 20

// Status is the part of the player's status document the controller uses
type Status struct {
	State      string // "playing", "paused", "stopped"
	NowPlaying string // title the player extracted from the stream, may be empty
}

// Playing reports whether the player is producing audio
func (s Status) Playing() bool {
	return s.State == "playing"
}

// Player is the remote media player the controller drives
type Player interface {
	Stop(ctx context.Context) error
	Empty(ctx context.Context) error
	Play(ctx context.Context, streamURL string) error
	Status(ctx context.Context) (Status, error)
}

// VLC drives a VLC instance through its HTTP interface. Every command is a
// Basic-authenticated GET on status.xml with a command parameter; the answer
// is always the current status document.
type VLC struct {
	client   client.Doer // bounded-timeout API client
	baseURL  string      // .../requests/ with a trailing slash
	username string      // Basic auth user, empty for a stock VLC
	password string      // --http-password of the VLC instance
}

// NewVLC creates a VLC client from the player config
func NewVLC(cfg config.PlayerConfig) *VLC {
	return NewVLCWithClient(client.NewAPIClient(cfg.RequestTimeout), cfg)
}

// NewVLCWithClient creates a VLC client on top of an existing HTTP client.
//
// Parameters:
//   - doer: client used for every command
//   - cfg: player settings; BaseURL points at VLC's requests/ directory
//
// Returns:
//   - *VLC: the player client
func NewVLCWithClient(doer client.Doer, cfg config.PlayerConfig) *VLC {
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &VLC{
		client:   doer,
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// statusDocument mirrors the elements of status.xml that are read
type statusDocument struct {
	XMLName     xml.Name `xml:"root"`
	State       string   `xml:"state"`
	Information struct {
		Categories []struct {
			Name  string `xml:"name,attr"`
			Infos []struct {
				Name  string `xml:"name,attr"`
				Value string `xml:",chardata"`
			} `xml:"info"`
		} `xml:"category"`
	} `xml:"information"`
}

func (d *statusDocument) nowPlaying() string {
	for _, cat := range d.Information.Categories {
		for _, info := range cat.Infos {
			if info.Name == "now_playing" {
				return strings.TrimSpace(info.Value)
			}
		}
	}
	return ""
}

// Stop halts playback
func (v *VLC) Stop(ctx context.Context) error {
	_, err := v.command(ctx, "pl_stop", "command=pl_stop")
	return err
}

// Empty clears the playlist
func (v *VLC) Empty(ctx context.Context) error {
	_, err := v.command(ctx, "pl_empty", "command=pl_empty")
	return err
}

// Play adds streamURL to the playlist and starts it
func (v *VLC) Play(ctx context.Context, streamURL string) error {
	_, err := v.command(ctx, "in_play", "command=in_play&input="+escapeInput(streamURL))
	return err
}

// Status fetches the current status document.
//
// Parameters:
//   - ctx: bounds the request
//
// Returns:
//   - Status: play state and the now playing title
//   - error: ErrPlayerControl wrapped on transport, HTTP or decode failures
func (v *VLC) Status(ctx context.Context) (Status, error) {
	doc, err := v.command(ctx, "status", "")
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:      strings.TrimSpace(doc.State),
		NowPlaying: doc.nowPlaying(),
	}, nil
}

// command issues one request and decodes the returned status document
func (v *VLC) command(ctx context.Context, name, query string) (*statusDocument, error) {
	target := v.baseURL + "status.xml"
	if query != "" {
		target += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPlayerControl, name, err)
	}
	req.SetBasicAuth(v.username, v.password)

	resp, err := v.client.Do(req)
	if err != nil {
		metrics.PlayerCommandErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrPlayerControl, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.PlayerCommandErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("%w: %s answered %s", ErrPlayerControl, name, resp.Status)
	}

	var doc statusDocument
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxStatusSize)).Decode(&doc); err != nil {
		metrics.PlayerCommandErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("%w: %s: bad status document: %v", ErrPlayerControl, name, err)
	}

	logger.Debug("{player/vlc - command} %s ok, state %s", name, doc.State)
	return &doc, nil
}

// escapeInput percent-encodes a stream URL for the input parameter, spaces as %20
func escapeInput(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
