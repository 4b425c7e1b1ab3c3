package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priceless-P/BoxPeer-Web/internal/blockstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/config"
	"github.com/Priceless-P/BoxPeer-Web/internal/kvstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/protocol"
)

const waitFor = 5 * time.Second

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

func newBlocks(t *testing.T, files ...string) (*blockstore.Blockstore, []cid.Cid) {
	t.Helper()
	bs, err := blockstore.New(kvstore.NewMemoryStore(), 16, nil)
	require.NoError(t, err)
	var cids []cid.Cid
	for _, f := range files {
		c, err := bs.Put(context.Background(), []byte(f))
		require.NoError(t, err)
		cids = append(cids, c)
	}
	return bs, cids
}

func serve(t *testing.T, cfg *config.Config, source protocol.ContentSource) (*Server, string) {
	t.Helper()
	s := New(context.Background(), cfg, source, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

func TestBatchRequest(t *testing.T) {
	bs, cids := newBlocks(t, "hello", "!")
	missing, err := blockstore.Sum([]byte("missing"))
	require.NoError(t, err)

	s, url := serve(t, testConfig(), bs)
	conn := dial(t, url)

	req := protocol.FormatGetFiles([]string{cids[0].String(), missing.String(), cids[1].String()})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))

	msg, err := protocol.DecodeFileMessage([]byte(readText(t, conn)))
	require.NoError(t, err)
	assert.Equal(t, cids[0].String(), msg.CID)
	assert.Equal(t, []byte("hello"), msg.Data)

	assert.True(t, strings.HasPrefix(readText(t, conn), "Error fetching file for CID "+missing.String()+": "))

	msg, err = protocol.DecodeFileMessage([]byte(readText(t, conn)))
	require.NoError(t, err)
	assert.Equal(t, []byte("!"), msg.Data)

	assert.Equal(t, 1, s.ConnectionCount())
}

// slowSource records how many fetches run at once
type slowSource struct {
	inner    protocol.ContentSource
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowSource) GetFile(ctx context.Context, c cid.Cid) ([]byte, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return s.inner.GetFile(ctx, c)
}

func TestRequestsAreServedInOrder(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e"}
	bs, cids := newBlocks(t, files...)
	src := &slowSource{inner: bs}
	_, url := serve(t, testConfig(), src)
	conn := dial(t, url)

	for _, c := range cids {
		req := protocol.FormatGetFiles([]string{c.String()})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	}
	for i, c := range cids {
		msg, err := protocol.DecodeFileMessage([]byte(readText(t, conn)))
		require.NoError(t, err)
		assert.Equal(t, c.String(), msg.CID)
		assert.Equal(t, []byte(files[i]), msg.Data)
	}
	assert.Equal(t, int32(1), src.peak.Load())
}

func TestTextReplies(t *testing.T) {
	bs, _ := newBlocks(t)
	_, url := serve(t, testConfig(), bs)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("GET_FILES:not-a-cid")))
	assert.Equal(t, protocol.ReplyNoValidCIDs, readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("LIST")))
	assert.Equal(t, protocol.ReplyUnknownCommand, readText(t, conn))
}

func TestBinaryEcho(t *testing.T) {
	bs, _ := newBlocks(t)
	_, url := serve(t, testConfig(), bs)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.WebSocket.HeartbeatInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.WebSocket.ClientTimeout = config.Duration{Duration: 100 * time.Millisecond}

	bs, _ := newBlocks(t)
	s, url := serve(t, cfg, bs)

	// a reading client answers pings through gorilla's default ping handler
	alive := dial(t, url)
	go func() {
		for {
			if _, _, err := alive.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// a client that never reads never sends a pong
	_ = dial(t, url)

	require.Eventually(t, func() bool { return s.ConnectionCount() == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, waitFor, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, s.ConnectionCount())
}

func TestMetrics(t *testing.T) {
	bs, cids := newBlocks(t, "hello")
	s, url := serve(t, testConfig(), bs)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(protocol.FormatGetFiles([]string{cids[0].String()}))))
	readText(t, conn)

	scrape := func() string {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		return string(body)
	}

	// counters are updated once the handler returns, just after the frame is queued
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(), "boxpeer_gateway_files_sent_total 1")
	}, waitFor, 10*time.Millisecond)
	body := scrape()
	assert.Contains(t, body, "boxpeer_gateway_connections 1")
	assert.Contains(t, body, `boxpeer_gateway_requests_total{result="batch"} 1`)
}

func TestStartStop(t *testing.T) {
	bs, cids := newBlocks(t, "hello")
	s := New(context.Background(), testConfig(), bs, nil)
	require.NoError(t, s.Start())
	assert.NotZero(t, s.Port())

	conn, _, err := websocket.DefaultDialer.Dial(s.URL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(protocol.FormatGetFiles([]string{cids[0].String()}))))
	var frame map[string]string
	require.NoError(t, json.Unmarshal([]byte(readText(t, conn)), &frame))
	assert.Equal(t, "aGVsbG8=", frame["data"])

	require.NoError(t, s.Stop())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStartWalksPortRange(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	cfg := testConfig()
	cfg.Server.Port = busyPort
	cfg.Server.PortRange = 10

	bs, _ := newBlocks(t)
	s := New(context.Background(), cfg, bs, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Greater(t, s.Port(), busyPort)
	assert.Less(t, s.Port(), busyPort+10)
}

func TestCheckOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.WebSocket.CheckOrigin = true
	cfg.WebSocket.AllowedOrigins = []string{"http://allowed.example"}

	bs, _ := newBlocks(t)
	_, url := serve(t, cfg, bs)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}
