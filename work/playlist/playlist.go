package playlist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/grafov/m3u8"

	"radio-relay/work/logger"
)

// MaxPlaylistSize bounds how much of a suspected playlist body is read
const MaxPlaylistSize = 64 * 1024

var (
	// ErrNoStream is returned when a playlist holds no usable entry
	ErrNoStream = errors.New("no stream URL found in playlist")

	// ErrAdaptive marks an HLS playlist; its segments must be fetched by the
	// listener, so the body is forwarded instead of being resolved
	ErrAdaptive = errors.New("adaptive playlist")
)

// Kind is the playlist flavour detected from headers and content
type Kind int

const (
	KindNone Kind = iota
	KindPLS
	KindM3U
)

// playlistTypes are Content-Type fragments that mark a playlist
var playlistTypes = map[string]Kind{
	"audio/x-scpls":                 KindPLS,
	"application/pls+xml":           KindPLS,
	"audio/mpegurl":                 KindM3U,
	"audio/x-mpegurl":               KindM3U,
	"application/x-mpegurl":         KindM3U,
	"application/vnd.apple.mpegurl": KindM3U,
}

// Detect guesses from the response headers and URL path whether the body is
// a playlist rather than audio. Audio content types always win, and a
// playlist extension alone only counts for a small body of known length.
func Detect(contentType, urlPath string, contentLength int64) Kind {
	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)

	if kind, ok := playlistTypes[ct]; ok {
		return kind
	}
	if strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") || ct == "application/ogg" {
		return KindNone
	}

	if contentLength < 0 || contentLength > MaxPlaylistSize {
		return KindNone
	}

	switch strings.ToLower(path.Ext(urlPath)) {
	case ".pls":
		return KindPLS
	case ".m3u", ".m3u8":
		return KindM3U
	}
	return KindNone
}

// Resolve reads a playlist body and returns the first stream it names,
// resolved against base.
//
// Parameters:
//   - base: URL the playlist was fetched from
//   - body: playlist content, read up to MaxPlaylistSize
//   - kind: hint from Detect, the content itself is sniffed as well
//
// Returns:
//   - *url.URL: absolute stream URL
//   - error: ErrAdaptive for HLS playlists, ErrNoStream when nothing is usable
func Resolve(base *url.URL, body io.Reader, kind Kind) (*url.URL, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxPlaylistSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	content := string(data)
	var entry string
	switch {
	case kind == KindPLS || strings.Contains(content, "[playlist]") || strings.Contains(content, "File1="):
		entry, err = parsePLS(content)
	default:
		entry, err = parseM3U(data)
	}
	if err != nil {
		return nil, err
	}

	ref, err := url.Parse(strings.TrimSpace(entry))
	if err != nil {
		return nil, fmt.Errorf("%w: bad entry %q", ErrNoStream, entry)
	}
	return base.ResolveReference(ref), nil
}

// parsePLS returns the first FileN= entry
func parsePLS(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(line), "file") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", ErrNoStream
}

// parseM3U decodes an (extended) M3U list. HLS playlists are reported as
// ErrAdaptive; a plain radio playlist yields its first entry.
func parseM3U(data []byte) (string, error) {
	if isHLS(data) {
		return "", ErrAdaptive
	}

	pl, listType, err := m3u8.DecodeFrom(bufio.NewReader(bytes.NewReader(data)), false)
	if err == nil {
		switch listType {
		case m3u8.MASTER:
			return "", ErrAdaptive
		case m3u8.MEDIA:
			media := pl.(*m3u8.MediaPlaylist)
			for _, seg := range media.Segments {
				if seg != nil && strings.TrimSpace(seg.URI) != "" {
					return seg.URI, nil
				}
			}
		}
	} else {
		logger.Debug("{playlist - parseM3U} m3u8 decoder failed, using line parser: %v", err)
	}

	// plain lists without #EXTINF lines are not picked up by the decoder
	return parseM3ULines(string(data))
}

// parseM3ULines returns the first non-comment line
func parseM3ULines(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	return "", ErrNoStream
}

// isHLS reports whether the playlist uses HLS segment or variant tags
func isHLS(data []byte) bool {
	for _, tag := range []string{"#EXT-X-STREAM-INF", "#EXT-X-TARGETDURATION", "#EXT-X-MEDIA-SEQUENCE"} {
		if bytes.Contains(data, []byte(tag)) {
			return true
		}
	}
	return false
}
