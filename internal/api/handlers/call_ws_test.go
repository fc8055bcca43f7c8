package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/denizyuce/callscribe/internal/models"
	"github.com/denizyuce/callscribe/internal/presence"
	"github.com/denizyuce/callscribe/internal/services"
	"github.com/denizyuce/callscribe/internal/stream"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, audio []byte) (string, float64, error) {
	return "konuşma içeriği burada yer alıyor", 0.9, nil
}

type signalFlusher struct {
	mu      sync.Mutex
	flushes int
	fired   chan struct{}
}

func newSignalFlusher() *signalFlusher {
	return &signalFlusher{fired: make(chan struct{}, 4)}
}

func (f *signalFlusher) Flush(ctx context.Context, req services.FlushRequest) (*models.SessionLog, error) {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	f.fired <- struct{}{}
	if len(req.Items) == 0 {
		return nil, nil
	}
	return &models.SessionLog{ID: 1}, nil
}

func (f *signalFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

func (f *signalFlusher) Get(ctx context.Context, userID string, id uint) (*models.SessionLog, error) {
	return nil, errors.New("not implemented")
}

func (f *signalFlusher) List(ctx context.Context, userID string, peerID *string) ([]models.SessionLog, error) {
	return nil, errors.New("not implemented")
}

func (f *signalFlusher) Delete(ctx context.Context, userID string, id uint) error {
	return errors.New("not implemented")
}

func (f *signalFlusher) Summarize(ctx context.Context, userID string, id uint, lang string) (string, error) {
	return "", errors.New("not implemented")
}

// newCallWSServer stands up the full handler over a miniredis-backed presence
// directory, with auth stubbed to a fixed user.
func newCallWSServer(t *testing.T) (*httptest.Server, *signalFlusher, *presence.Directory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := presence.NewDirectory(rdb)
	flusher := newSignalFlusher()
	manager := stream.NewManager(stubTranscriber{}, flusher, nil, dir, nil, stream.Config{})

	h := NewCallWSHandler(manager, dir, nil)

	r := gin.New()
	r.GET("/ws/call", func(c *gin.Context) { c.Set("user_id", "u1") }, h.CallWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, flusher, dir
}

func dialCallWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/call"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func beginCall(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := `{"type":"pcm_begin","peer_user_id":"u2"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("pcm_begin write: %v", err)
	}
	_, ack, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("pcm_begin ack: %v", err)
	}
	if !strings.Contains(string(ack), "streaming") {
		t.Fatalf("unexpected ack: %s", ack)
	}
}

// An abrupt client disconnect must flush right away, without waiting for any
// later pub/sub traffic to wake the handler.
func TestAbruptDisconnectFlushesPromptly(t *testing.T) {
	srv, flusher, _ := newCallWSServer(t)

	conn := dialCallWS(t, srv)
	beginCall(t, conn)
	conn.Close()

	select {
	case <-flusher.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not run within 2s of the socket dropping")
	}
}

func TestPcmEndFlushesAndAcks(t *testing.T) {
	srv, flusher, _ := newCallWSServer(t)

	conn := dialCallWS(t, srv)
	defer conn.Close()
	beginCall(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pcm_end"}`)); err != nil {
		t.Fatalf("pcm_end write: %v", err)
	}

	_, ack, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("pcm_end ack: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(ack, &body); err != nil {
		t.Fatalf("ack json: %v", err)
	}
	if body["status"] != "ended" {
		t.Errorf("ack status = %v", body["status"])
	}

	select {
	case <-flusher.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("pcm_end did not flush")
	}

	// The deferred disconnect path after pcm_end must not flush again.
	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if got := flusher.count(); got != 1 {
		t.Errorf("flush ran %d times, want 1", got)
	}
}

func TestUserEventsForwardedToSocket(t *testing.T) {
	srv, _, dir := newCallWSServer(t)

	conn := dialCallWS(t, srv)
	defer conn.Close()
	beginCall(t, conn)

	// Emitting to the user over Redis must surface on the live socket.
	deadline := time.Now().Add(2 * time.Second)
	go func() {
		// Subscription races the emit on a fresh connection; retry briefly.
		for time.Now().Before(deadline) {
			_ = dir.Emit(context.Background(), "u1", "sessionlog_saved", map[string]any{"id": 7})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	_ = conn.SetReadDeadline(deadline)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("event read: %v", err)
	}
	if !strings.Contains(string(payload), "sessionlog_saved") {
		t.Errorf("unexpected payload: %s", payload)
	}
}
