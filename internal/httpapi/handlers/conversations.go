package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/telkom-research/paperchat/internal/session"
)

// StartConversation registers a conversation before its first turn, so
// clients can hold a stable id up front. Lazy creation via the first
// chat call works too.
func (h *Handler) StartConversation(c *gin.Context) {
	sess, err := h.Sessions.StartSession(c.Request.Context())
	if err != nil {
		log.Printf("[StartConversation] failed err=%v", err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{
		"conversation_id": sess.ConversationID,
		"created_at":      sess.CreatedAt,
		"ttl_seconds":     int(sess.TTLRemaining.Seconds()),
	})
}

func (h *Handler) GetConversation(c *gin.Context) {
	id := c.Param("conversation_id")
	if id == "" {
		fail(c, http.StatusBadRequest, 10002, "conversation_id required")
		return
	}

	ctx := c.Request.Context()
	msgs := h.Sessions.GetHistory(ctx, id, 0)

	info, err := h.Sessions.SessionInfo(ctx, id)
	if err != nil {
		if len(msgs) == 0 {
			fail(c, http.StatusNotFound, 40401, "conversation not found")
			return
		}
		// durable-only view after cache expiry
		info = session.Session{ConversationID: id, MessageCount: int64(len(msgs))}
	}

	if msgs == nil {
		msgs = []session.Message{}
	}
	ok(c, gin.H{
		"conversation_id":       id,
		"created_at":            info.CreatedAt,
		"last_active_at":        info.LastActiveAt,
		"message_count":         info.MessageCount,
		"ttl_remaining_seconds": int(info.TTLRemaining.Seconds()),
		"messages":              msgs,
	})
}

// DeleteConversation forgets a conversation in both tiers.
func (h *Handler) DeleteConversation(c *gin.Context) {
	id := c.Param("conversation_id")
	if id == "" {
		fail(c, http.StatusBadRequest, 10002, "conversation_id required")
		return
	}

	ctx := c.Request.Context()
	if err := h.Sessions.DeleteSession(ctx, id); err != nil {
		log.Printf("[DeleteConversation] cache delete failed conversation_id=%s err=%v", id, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if h.Durable != nil {
		if err := h.Durable.DeleteConversation(ctx, id); err != nil {
			log.Printf("[DeleteConversation] durable delete failed conversation_id=%s err=%v", id, err)
			fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
	}
	ok(c, gin.H{"deleted": true})
}

type pruneReq struct {
	Keep int `json:"keep"`
}

// PruneConversation drops the oldest cached turns beyond keep. The
// durable log is left intact.
func (h *Handler) PruneConversation(c *gin.Context) {
	id := c.Param("conversation_id")
	if id == "" {
		fail(c, http.StatusBadRequest, 10002, "conversation_id required")
		return
	}

	var req pruneReq
	_ = c.ShouldBindJSON(&req) // allow empty {}
	keep := req.Keep
	if keep <= 0 {
		keep = h.Sessions.MaxMessages()
	}

	removed, err := h.Sessions.Prune(c.Request.Context(), id, keep)
	if err != nil {
		log.Printf("[PruneConversation] failed conversation_id=%s err=%v", id, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"removed": removed, "kept": keep})
}
