package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radio-relay/work/database"
	"radio-relay/work/directory"
	"radio-relay/work/icy"
	"radio-relay/work/netguard"
	"radio-relay/work/relay"
	"radio-relay/work/types"
)

type fakeDirectory struct {
	mu       sync.Mutex
	lastQ    directory.Query
	stations []types.Station
	err      error
}

func (f *fakeDirectory) Search(_ context.Context, q directory.Query) ([]types.Station, error) {
	f.mu.Lock()
	f.lastQ = q
	f.mu.Unlock()
	return f.stations, f.err
}

func (f *fakeDirectory) ResolveURL(_ context.Context, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://resolved.example/" + id, nil
}

type fakeOpener struct {
	up  *relay.Upstream
	err error
}

func (f *fakeOpener) Open(context.Context, string) (*relay.Upstream, error) {
	return f.up, f.err
}

type fakeInfo struct {
	title string
	err   error
}

func (f *fakeInfo) GetStreamInfo(_ context.Context, u string) (string, error) {
	if u == "" {
		return "", nil
	}
	return f.title, f.err
}

type fakePlayer struct {
	played  *types.Station
	stopped bool
	status  types.PlayerStatus
	title   string
	err     error
}

func (f *fakePlayer) Play(_ context.Context, s types.Station) error {
	if f.err != nil {
		return f.err
	}
	f.played = &s
	return nil
}

func (f *fakePlayer) Stop(context.Context) error {
	f.stopped = true
	return f.err
}

func (f *fakePlayer) Status(context.Context) (types.PlayerStatus, error) {
	return f.status, f.err
}

func (f *fakePlayer) NowPlaying(context.Context) (string, error) {
	return f.title, f.err
}

type fakeFavorites struct {
	items []types.Favorite
}

func (f *fakeFavorites) GetFavorites(context.Context) ([]types.Favorite, error) {
	return f.items, nil
}

func (f *fakeFavorites) AddFavorite(_ context.Context, s types.Station) (types.Favorite, error) {
	for _, it := range f.items {
		if it.StationID == s.StationID {
			return types.Favorite{}, database.ErrFavoriteExists
		}
	}
	fav := types.Favorite{Station: s, CreatedAt: time.Unix(1700000000, 0).UTC()}
	f.items = append(f.items, fav)
	return fav, nil
}

func (f *fakeFavorites) RemoveFavorite(_ context.Context, id string) error {
	for i, it := range f.items {
		if it.StationID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return database.ErrFavoriteNotFound
}

func newRouter(deps Deps) *mux.Router {
	if deps.Directory == nil {
		deps.Directory = &fakeDirectory{}
	}
	if deps.Relay == nil {
		deps.Relay = &fakeOpener{err: errors.New("unused")}
	}
	if deps.Registry == nil {
		deps.Registry = relay.NewRegistry(10)
	}
	if deps.Info == nil {
		deps.Info = &fakeInfo{}
	}
	r := mux.NewRouter()
	SetupRoutes(r, deps)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStationsSanitizesAndDefaults(t *testing.T) {
	dir := &fakeDirectory{stations: []types.Station{{StationID: "a", Name: "Alpha", URL: "http://a.example/"}}}
	r := newRouter(Deps{Directory: dir})

	rec := do(t, r, http.MethodGet, "/api/stations?query="+url.QueryEscape("  <b>Jazz</b>   FM; ")+"&tag=rock&country=Germany", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, directory.Query{Name: "bJazz/b FM", Tag: "rock", Country: "Germany", Limit: 100}, dir.lastQ)

	var got []types.Station
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, dir.stations, got)
}

func TestStationsRejectsBadPaging(t *testing.T) {
	r := newRouter(Deps{})
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/stations?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/stations?offset=-1", "").Code)
}

func TestStationsCapsLimit(t *testing.T) {
	dir := &fakeDirectory{}
	r := newRouter(Deps{Directory: dir})

	do(t, r, http.MethodGet, "/api/stations?limit=100000&offset=20", "")
	assert.Equal(t, maxStationsLimit, dir.lastQ.Limit)
	assert.Equal(t, 20, dir.lastQ.Offset)
}

func TestStationsDirectoryFailure(t *testing.T) {
	dir := &fakeDirectory{err: fmt.Errorf("%w: after 4 attempts", directory.ErrUnavailable)}
	r := newRouter(Deps{Directory: dir})

	rec := do(t, r, http.MethodGet, "/api/stations", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch radio stations"}`, rec.Body.String())
}

func TestStationURL(t *testing.T) {
	r := newRouter(Deps{})
	rec := do(t, r, http.MethodGet, "/api/stations/abc-123/url", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"http://resolved.example/abc-123"}`, rec.Body.String())
}

func TestProxyStreamsUpstream(t *testing.T) {
	u, _ := url.Parse("http://radio.example/live")
	opener := &fakeOpener{up: &relay.Upstream{
		Body:        io.NopCloser(strings.NewReader("audio-bytes")),
		ContentType: "audio/aacp",
		Path:        relay.PathSocket,
		URL:         u,
	}}
	reg := relay.NewRegistry(10)
	r := newRouter(Deps{Relay: opener, Registry: reg})

	rec := do(t, r, http.MethodGet, "/api/proxy?url="+url.QueryEscape(u.String()), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/aacp", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	assert.Equal(t, "audio-bytes", rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Zero(t, reg.Len())
}

func TestProxyCommitsHeadersBeforeFirstUpstreamByte(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	u, _ := url.Parse("http://radio.example/live")
	opener := &fakeOpener{up: &relay.Upstream{
		Body:        pr,
		ContentType: "audio/mpeg",
		Path:        relay.PathHTTP,
		URL:         u,
	}}
	srv := httptest.NewServer(newRouter(Deps{Relay: opener}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/proxy?url="+url.QueryEscape(u.String()), nil)
	require.NoError(t, err)

	// the upstream has not produced a byte yet
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))

	go func() {
		pw.Write([]byte("frame"))
		pw.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(body))
}

func TestProxyErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"missing url", "/api/proxy", nil, http.StatusBadRequest},
		{"refused", "/api/proxy?url=http://127.0.0.1/x", fmt.Errorf("%w: loopback", netguard.ErrInvalidInput), http.StatusBadRequest},
		{"upstream", "/api/proxy?url=http://radio.example/x", fmt.Errorf("%w: refused", relay.ErrUpstream), http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(Deps{Relay: &fakeOpener{err: tc.err}})
			assert.Equal(t, tc.want, do(t, r, http.MethodGet, tc.target, "").Code)
		})
	}
}

func TestProxyRelayLimit(t *testing.T) {
	reg := relay.NewRegistry(1)
	_, ok := reg.Acquire("http://busy.example/", "1.2.3.4:1")
	require.True(t, ok)

	r := newRouter(Deps{Registry: reg})
	rec := do(t, r, http.MethodGet, "/api/proxy?url=http://radio.example/x", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRelaysListing(t *testing.T) {
	reg := relay.NewRegistry(5)
	reg.Acquire("http://a.example/live", "1.2.3.4:1")

	rec := do(t, newRouter(Deps{Registry: reg}), http.MethodGet, "/api/relays", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []relay.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestInfo(t *testing.T) {
	r := newRouter(Deps{Info: &fakeInfo{title: "Song - Artist"}})

	rec := do(t, r, http.MethodGet, "/api/info?stream=http://radio.example/live", "")
	assert.JSONEq(t, `{"nowPlaying":"Song - Artist"}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/api/info", "")
	assert.JSONEq(t, `{"nowPlaying":""}`, rec.Body.String())

	r = newRouter(Deps{Info: &fakeInfo{err: netguard.ErrInvalidInput}})
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/info?stream=http://10.0.0.1/", "").Code)

	r = newRouter(Deps{Info: &fakeInfo{err: icy.ErrBusy}})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/api/info?stream=http://radio.example/", "").Code)

	r = newRouter(Deps{Info: &fakeInfo{err: errors.New("connection refused")}})
	assert.Equal(t, http.StatusInternalServerError, do(t, r, http.MethodGet, "/api/info?stream=http://radio.example/", "").Code)
}

func TestPlayerRoutes(t *testing.T) {
	station := types.Station{StationID: "s1", Name: "Test FM", URL: "http://radio.example/live"}
	p := &fakePlayer{status: types.PlayerStatus{Playback: true, Data: &station}, title: "Now - Playing"}
	r := newRouter(Deps{Player: p})

	rec := do(t, r, http.MethodGet, "/api/player", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st types.PlayerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Playback)
	assert.Equal(t, "Test FM", st.Data.Name)

	rec = do(t, r, http.MethodGet, "/api/player?type=playlist", "")
	assert.JSONEq(t, `{"nowPlaying":"Now - Playing"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/player?type=bogus", "").Code)

	body, _ := json.Marshal(station)
	rec = do(t, r, http.MethodPost, "/api/player", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, p.played)
	assert.Equal(t, station, *p.played)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/player", `{"url":"file:///etc/passwd"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/player", `not json`).Code)

	rec = do(t, r, http.MethodDelete, "/api/player", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"playback":false,"data":{}}`, rec.Body.String())
	assert.True(t, p.stopped)
}

func TestPlayerFailure(t *testing.T) {
	p := &fakePlayer{err: errors.New("player control failed")}
	r := newRouter(Deps{Player: p})

	assert.Equal(t, http.StatusInternalServerError, do(t, r, http.MethodGet, "/api/player", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, r, http.MethodPost, "/api/player", `{"url":"http://radio.example/"}`).Code)

	rec := do(t, r, http.MethodDelete, "/api/player", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"playback":false,"data":{}}`, rec.Body.String())
}

func TestPlayerDisabled(t *testing.T) {
	r := newRouter(Deps{})
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/player", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/favorites", "").Code)
}

func TestFavoritesRoutes(t *testing.T) {
	store := &fakeFavorites{}
	r := newRouter(Deps{Favorites: store})

	station := `{"station_id":"s1","name":"Test FM","url":"http://radio.example/live"}`
	assert.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/favorites", station).Code)
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/api/favorites", station).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/favorites", `{"url":"http://radio.example/live"}`).Code)

	rec := do(t, r, http.MethodGet, "/api/favorites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []types.Favorite `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "s1", list.Data[0].StationID)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodDelete, "/api/favorites?station_id=s1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/favorites?station_id=s1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodDelete, "/api/favorites", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newRouter(Deps{}), http.MethodOptions, "/api/stations", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "jazz", SanitizeInput("  jazz  "))
	assert.Equal(t, "rock & roll", SanitizeInput("rock\t&\nroll"))
	assert.Equal(t, "DROP TABLE stations--", SanitizeInput("'; DROP TABLE stations;--"))
	assert.Equal(t, "scriptalert(x)/script", SanitizeInput(`<script>alert("x")</script>`))
	assert.Equal(t, strings.Repeat("a", maxInputLength), SanitizeInput(strings.Repeat("a", 300)))
}
