package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/denizyuce/callscribe/internal/logger"
	"github.com/denizyuce/callscribe/internal/presence"
	"github.com/denizyuce/callscribe/internal/stream"
	"github.com/denizyuce/callscribe/internal/utils"
)

type CallWSHandler struct {
	manager  *stream.Manager
	presence *presence.Directory
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewCallWSHandler(manager *stream.Manager, dir *presence.Directory, log *logrus.Logger) *CallWSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &CallWSHandler{
		manager:  manager,
		presence: dir,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type callClientMsg struct {
	Type string `json:"type"`

	// pcm_begin
	PeerUserID       string     `json:"peer_user_id"`
	CallID           *string    `json:"call_id"`
	SessionTimestamp *time.Time `json:"session_timestamp"`

	// pcm_chunk; binary frames carry the same payload without the envelope
	PCM string `json:"pcm"`
}

type callConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *callConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// CallWS upgrades one authenticated socket into a live call pipeline.
// Text frames carry pcm_begin / pcm_chunk / pcm_end envelopes; binary frames
// are raw PCM and count as chunks. Events addressed to the user over Redis
// pub/sub are forwarded to the socket verbatim.
func (h *CallWSHandler) CallWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connectionID := uuid.NewString()
	wc := &callConn{c: conn}
	log := logger.ForConnection(h.log, connectionID, userID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := h.presence.SetOnline(ctx, userID, connectionID); err != nil {
		log.WithError(err).Warn("presence set online failed")
	}
	defer func() {
		if err := h.presence.SetOffline(context.Background(), userID); err != nil {
			log.WithError(err).Warn("presence set offline failed")
		}
	}()

	// Partial transcripts and notifications arrive on the user's channel
	// no matter which instance produced them.
	pubsub := h.presence.Subscribe(ctx, userID)
	defer pubsub.Close()

	// The stream may end by pcm_end or by the socket dropping; either way
	// the manager flushes exactly once.
	defer h.manager.Disconnect(connectionID)

	// Forward pub/sub to the socket in the background. The handler's lifetime
	// is the read loop: the moment the socket drops, CallWS returns and the
	// deferred flush runs. The canceled ctx unblocks ReceiveMessage.
	go func() {
		for {
			m, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}()

	h.readLoop(ctx, wc, conn, connectionID, userID, log)
}

func (h *CallWSHandler) readLoop(ctx context.Context, wc *callConn, conn *websocket.Conn, connectionID, userID string, log *logrus.Entry) {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if mt == websocket.BinaryMessage {
			h.manager.Chunk(connectionID, data)
			continue
		}

		var msg callClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
			continue
		}

		switch msg.Type {
		case "pcm_begin":
			if msg.PeerUserID == "" {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"peer_user_id is required"}`))
				continue
			}
			info := stream.BeginInfo{
				UserID:     userID,
				PeerUserID: msg.PeerUserID,
				CallID:     msg.CallID,
			}
			if msg.SessionTimestamp != nil {
				info.SessionTimestamp = msg.SessionTimestamp.UTC()
			}
			if err := h.manager.Begin(connectionID, info); err != nil {
				writeWSError(wc, err)
				continue
			}
			_ = wc.writeText([]byte(`{"type":"status","status":"streaming","message":"call stream begun"}`))

		case "pcm_chunk":
			pcm, err := base64.StdEncoding.DecodeString(msg.PCM)
			if err != nil {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid pcm base64"}`))
				continue
			}
			h.manager.Chunk(connectionID, pcm)

		case "pcm_end":
			row, err := h.manager.End(ctx, connectionID)
			if err != nil {
				writeWSError(wc, err)
				return
			}
			ack := map[string]any{"type": "status", "status": "ended", "message": "call stream ended"}
			if row != nil {
				ack["session_log_id"] = row.ID
			}
			b, _ := json.Marshal(ack)
			_ = wc.writeText(b)
			return

		default:
			_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
		}
	}
}

func writeWSError(wc *callConn, err error) {
	body, _ := json.Marshal(map[string]any{
		"type":    "error",
		"code":    utils.CodeOf(err),
		"message": err.Error(),
	})
	_ = wc.writeText(body)
}
