package icy

import (
	"bufio"
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radio-relay/work/cache"
	"radio-relay/work/config"
	"radio-relay/work/netguard"
)

// metaBlock encodes text as a length-prefixed, NUL padded ICY block
func metaBlock(text string) string {
	n := (len(text) + 15) / 16
	return string([]byte{byte(n)}) + text + strings.Repeat("\x00", n*16-len(text))
}

// streamServer serves response to every connection after reading the request head
func streamServer(t *testing.T, response string, hold bool) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					line, err := br.ReadString('\n')
					if err != nil || line == "\r\n" {
						break
					}
				}
				io.WriteString(c, response)
				if hold {
					io.Copy(io.Discard, c)
				}
			}(conn)
		}
	}()

	return "http://" + ln.Addr().String() + "/live"
}

func testHarvester(timeout time.Duration) *Harvester {
	cfg := config.Defaults()
	cfg.Metadata.Timeout = timeout
	return NewHarvester(&netguard.Guard{AllowPrivate: true}, cfg)
}

func TestHarvestICYStatusLine(t *testing.T) {
	audio := strings.Repeat("A", 16)
	u := streamServer(t, "ICY 200 OK\r\nicy-name: Test FM\r\nicy-metaint: 16\r\n\r\n"+audio+metaBlock("StreamTitle='Artist - Song';StreamUrl='';"), false)

	title, err := testHarvester(time.Second).Harvest(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "Artist - Song", title)
}

func tlsStream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("Icy-MetaData"))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Icy-Metaint", "16")
		io.WriteString(w, strings.Repeat("C", 16)+metaBlock("StreamTitle='Secure FM';"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHarvestVerifiesCertificates(t *testing.T) {
	srv := tlsStream(t)

	_, err := testHarvester(time.Second).Harvest(context.Background(), srv.URL+"/live")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoMetadata))
}

func TestHarvestTrustedTLSStream(t *testing.T) {
	srv := tlsStream(t)

	h := testHarvester(time.Second)
	h.rootCAs = x509.NewCertPool()
	h.rootCAs.AddCert(srv.Certificate())

	title, err := h.Harvest(context.Background(), srv.URL+"/live")
	require.NoError(t, err)
	assert.Equal(t, "Secure FM", title)
}

func TestHarvestSkipsEmptyBlocks(t *testing.T) {
	audio := strings.Repeat("B", 32)
	body := audio + metaBlock("") + audio + metaBlock("StreamTitle='Don't Stop';")
	u := streamServer(t, "HTTP/1.0 200 OK\r\nContent-Type: audio/mpeg\r\nIcy-MetaInt: 32\r\n\r\n"+body, false)

	title, err := testHarvester(time.Second).Harvest(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "Don't Stop", title)
}

func TestHarvestWithoutMetaint(t *testing.T) {
	u := streamServer(t, "ICY 200 OK\r\nicy-name: Plain\r\n\r\n"+strings.Repeat("C", 64), false)

	_, err := testHarvester(time.Second).Harvest(context.Background(), u)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestHarvestTimesOut(t *testing.T) {
	u := streamServer(t, "ICY 200 OK\r\nicy-metaint: 8192\r\n\r\n"+strings.Repeat("D", 100), true)

	start := time.Now()
	_, err := testHarvester(150*time.Millisecond).Harvest(context.Background(), u)
	assert.ErrorIs(t, err, ErrNoMetadata)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHarvestRefusesPrivateTarget(t *testing.T) {
	h := NewHarvester(&netguard.Guard{}, config.Defaults())
	_, err := h.Harvest(context.Background(), "http://192.168.1.10:8000/live")
	assert.ErrorIs(t, err, netguard.ErrInvalidInput)
}

func TestHarvestBadStatus(t *testing.T) {
	u := streamServer(t, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n", false)

	_, err := testHarvester(time.Second).Harvest(context.Background(), u)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoMetadata))
}

func TestParseMetadata(t *testing.T) {
	got := ParseMetadata("StreamTitle='Band - Track';StreamUrl='http://x.example/';\x00\x00")
	assert.Equal(t, "Band - Track", got["StreamTitle"])
	assert.Equal(t, "http://x.example/", got["StreamUrl"])

	assert.Empty(t, ParseMetadata("garbage"))
}

type fakeSource struct {
	calls atomic.Int32
	title string
	err   error
}

func (f *fakeSource) Harvest(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.title, f.err
}

func newExtractor(t *testing.T, src TitleSource) *Extractor {
	t.Helper()
	e, err := New(src, cache.NewNowPlayingCache(100, time.Minute), 4)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestGetStreamInfoEmptyURL(t *testing.T) {
	src := &fakeSource{title: "x"}
	e := newExtractor(t, src)

	title, err := e.GetStreamInfo(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", title)
	assert.Zero(t, src.calls.Load())
}

func TestGetStreamInfoMemoizes(t *testing.T) {
	src := &fakeSource{title: "Artist - Song"}
	e := newExtractor(t, src)

	for range 3 {
		title, err := e.GetStreamInfo(context.Background(), "http://radio.example/live")
		require.NoError(t, err)
		assert.Equal(t, "Artist - Song", title)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestGetStreamInfoUndefined(t *testing.T) {
	src := &fakeSource{err: ErrNoMetadata}
	e := newExtractor(t, src)

	title, err := e.GetStreamInfo(context.Background(), "http://radio.example/live")
	require.NoError(t, err)
	assert.Equal(t, Undefined, title)
}

func TestGetStreamInfoPropagatesErrors(t *testing.T) {
	src := &fakeSource{err: netguard.ErrInvalidInput}
	e := newExtractor(t, src)

	_, err := e.GetStreamInfo(context.Background(), "http://127.0.0.1/")
	assert.ErrorIs(t, err, netguard.ErrInvalidInput)

	// failures are not memoized
	_, _ = e.GetStreamInfo(context.Background(), "http://127.0.0.1/")
	assert.Equal(t, int32(2), src.calls.Load())
}
