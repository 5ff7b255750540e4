package relay

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"radio-relay/work/utils"
)

// Session is one listener attached to a relayed stream
type Session struct {
	ID         string
	URL        string
	RemoteAddr string
	Started    time.Time
	path       atomic.Value // string, set once the upstream is open
	bytes      atomic.Int64
}

// SetPath records which relay path serves the session
func (s *Session) SetPath(p string) { s.path.Store(p) }

// AddBytes counts payload forwarded to the listener
func (s *Session) AddBytes(n int) { s.bytes.Add(int64(n)) }

// SessionInfo is the JSON view of a Session
type SessionInfo struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	RemoteAddr string    `json:"remote_addr"`
	Path       string    `json:"path"`
	Started    time.Time `json:"started"`
	Bytes      int64     `json:"bytes"`
}

// Registry tracks active relay sessions and enforces the listener limit.
type Registry struct {
	sessions *xsync.MapOf[string, *Session] // session ID -> live session
	active   atomic.Int32                   // admitted sessions, reserved before the map insert
	limit    int32                          // maximum concurrent sessions
}

// NewRegistry creates a registry admitting at most limit concurrent sessions
func NewRegistry(limit int) *Registry {
	return &Registry{
		sessions: xsync.NewMapOf[string, *Session](),
		limit:    int32(limit),
	}
}

// Acquire admits a new session, or reports false when the limit is reached.
//
// Parameters:
//   - streamURL: URL the listener asked for, as received
//   - remoteAddr: listener address for the sessions listing
//
// Returns:
//   - *Session: the registered session, to be released with its ID
//   - bool: false when the registry is full
func (r *Registry) Acquire(streamURL, remoteAddr string) (*Session, bool) {
	if r.active.Add(1) > r.limit {
		r.active.Add(-1)
		return nil, false
	}

	s := &Session{
		ID:         uuid.New().String(),
		URL:        streamURL,
		RemoteAddr: remoteAddr,
		Started:    time.Now(),
	}
	r.sessions.Store(s.ID, s)
	return s, true
}

// Release removes a session; releasing an unknown ID is a no-op
func (r *Registry) Release(id string) {
	if _, ok := r.sessions.LoadAndDelete(id); ok {
		r.active.Add(-1)
	}
}

// Len reports the number of active sessions
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// Snapshot lists active sessions, oldest first. URLs follow the log obfuscation setting.
func (r *Registry) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, r.sessions.Size())
	r.sessions.Range(func(_ string, s *Session) bool {
		path, _ := s.path.Load().(string)
		out = append(out, SessionInfo{
			ID:         s.ID,
			URL:        utils.LogURL(s.URL),
			RemoteAddr: s.RemoteAddr,
			Path:       path,
			Started:    s.Started,
			Bytes:      s.bytes.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}
