package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/denizyuce/callscribe/internal/services"
	"github.com/denizyuce/callscribe/internal/utils"
)

type SessionLogHandler struct {
	svc services.SessionLogService
}

func NewSessionLogHandler(svc services.SessionLogService) *SessionLogHandler {
	return &SessionLogHandler{svc: svc}
}

func (h *SessionLogHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var peerID *string
	if s := c.Query("peer_id"); s != "" {
		peerID = &s
	}

	rows, err := h.svc.List(c.Request.Context(), userID, peerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_logs": rows})
}

func (h *SessionLogHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	row, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, row)
}

func (h *SessionLogHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *SessionLogHandler) Summarize(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	lang := c.Query("lang")
	if lang == "" {
		lang = "tr"
	}

	summary, err := h.svc.Summarize(c.Request.Context(), userID, id, lang)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_log_id": id,
		"lang":           lang,
		"summary":        summary,
	})
}

func pathID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionLogHandler", "invalid id", err))
		return 0, false
	}
	return uint(n), true
}
