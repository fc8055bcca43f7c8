package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/denizyuce/callscribe/internal/presence"
	mongorepo "github.com/denizyuce/callscribe/internal/repositories/mongo"
	"github.com/denizyuce/callscribe/internal/utils"
)

// CallHandler serves the live-call side surfaces: the per-connection segment
// audit trail and the presence lookup.
type CallHandler struct {
	segments mongorepo.SegmentRepository
	presence *presence.Directory
}

func NewCallHandler(segments mongorepo.SegmentRepository, dir *presence.Directory) *CallHandler {
	return &CallHandler{segments: segments, presence: dir}
}

// Segments lists the audit rows of one connection in pipeline order. Rows
// expire with the Mongo TTL, so this is a debugging window, not history.
func (h *CallHandler) Segments(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	connectionID := c.Param("connection_id")
	if connectionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Segments", "missing connection_id", nil))
		return
	}

	limit := int64(100)
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	rows, err := h.segments.ListByConnection(c.Request.Context(), connectionID, limit)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "CallHandler.Segments", "failed to list segments", err))
		return
	}

	if len(rows) > 0 && rows[0].UserID != userID && rows[0].PeerUserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "CallHandler.Segments", "not a participant of this call", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connection_id": connectionID,
		"segments":      rows,
	})
}

// Presence reports whether a user currently holds a live call socket.
func (h *CallHandler) Presence(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	target := c.Param("user_id")
	online, err := h.presence.IsOnline(c.Request.Context(), target)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, "CallHandler.Presence", "presence lookup failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": target, "online": online})
}
