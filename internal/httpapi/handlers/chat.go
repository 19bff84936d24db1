package handlers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/telkom-research/paperchat/internal/common"
	"github.com/telkom-research/paperchat/internal/jobs"
	"github.com/telkom-research/paperchat/internal/retrieval"
	"github.com/telkom-research/paperchat/internal/session"
	"github.com/telkom-research/paperchat/internal/stream"
	"gorm.io/gorm"
)

type metaParams struct {
	Stream           *bool  `json:"stream"`
	ConversationID   string `json:"conversation_id"`
	IsIncognito      bool   `json:"is_incognito"`
	Language         string `json:"language"`
	SourcePreference string `json:"source_preference"`
	Timezone         string `json:"timezone"`
}

type chatReq struct {
	Query      string      `json:"query" binding:"required"`
	MetaParams *metaParams `json:"meta_params"`
}

func (r *chatReq) meta() session.Meta {
	m := session.Meta{
		Stream:           true,
		Language:         "en-US",
		SourcePreference: "all",
		Timezone:         "UTC",
	}
	p := r.MetaParams
	if p == nil {
		return m
	}
	if p.Stream != nil {
		m.Stream = *p.Stream
	}
	m.ConversationID = strings.TrimSpace(p.ConversationID)
	m.Incognito = p.IsIncognito
	if p.Language != "" {
		m.Language = p.Language
	}
	if p.SourcePreference != "" {
		m.SourcePreference = p.SourcePreference
	}
	if p.Timezone != "" {
		m.Timezone = p.Timezone
	}
	return m
}

// Chat answers one turn, streaming by default. A request is rejected
// before any cache or pipeline work when the query is missing.
func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		fail(c, http.StatusBadRequest, 10002, "query required")
		return
	}

	meta := req.meta()
	in, err := h.prepare(c.Request.Context(), req.Query, meta)
	if err != nil {
		log.Printf("chat prepare failed err=%v", err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if meta.Stream {
		h.streamChat(c, in)
		return
	}
	h.collectChat(c, in)
}

// prepare resolves the conversation id, loads history and retrieves
// context. Incognito requests get no id and no history, whatever the
// client sent.
func (h *Handler) prepare(ctx context.Context, query string, meta session.Meta) (stream.Input, error) {
	in := stream.Input{Query: query, Meta: meta}

	if !session.IsIncognito(meta) {
		if meta.ConversationID == "" {
			sess, err := h.Sessions.StartSession(ctx)
			if err != nil {
				return stream.Input{}, err
			}
			in.ConversationID = sess.ConversationID
		} else {
			in.ConversationID = meta.ConversationID
			in.History = h.Sessions.GetHistory(ctx, meta.ConversationID, h.Cfg.HistoryWindowSize)
		}
	}

	if meta.SourcePreference != "only_general" && h.Retriever != nil {
		passages, err := h.Retriever.Retrieve(ctx, query, h.Cfg.RetrievalTopK)
		if err != nil {
			// degrade to an uninformed answer rather than failing the turn
			log.Printf("retrieval failed conversation_id=%s err=%v", in.ConversationID, err)
		} else {
			in.Context = retrieval.FormatContext(passages)
		}
	}
	return in, nil
}

func (h *Handler) streamChat(c *gin.Context, in stream.Input) {
	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprint(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	ctx := c.Request.Context()
	events := h.Dispatcher.Run(ctx, in)

	for ev := range events {
		frame, err := stream.SSEFrame(ev)
		if err != nil {
			log.Printf("sse marshal failed conversation_id=%s err=%v", in.ConversationID, err)
			continue
		}
		if _, err := c.Writer.Write(frame); err != nil {
			// client went away; the dispatcher sees the context die
			return
		}
		flusher.Flush()
	}

	// the channel closed on a terminal event; cap the stream
	if ctx.Err() == nil {
		_, _ = io.WriteString(c.Writer, stream.SSESentinel)
		flusher.Flush()
	}
}

func (h *Handler) collectChat(c *gin.Context, in stream.Input) {
	res, err := h.Dispatcher.Collect(c.Request.Context(), in)
	if err != nil {
		log.Printf("chat generation failed conversation_id=%s err=%v", in.ConversationID, err)
		fail(c, http.StatusBadGateway, 50201, "generation failed")
		return
	}

	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}
	resp := gin.H{
		"answer":  res.Answer,
		"sources": sources,
	}
	if in.ConversationID != "" {
		resp["conversation_id"] = in.ConversationID
	}
	c.JSON(http.StatusOK, resp)
}

// ChatAsync queues a turn for the background worker and returns a job
// id to poll. Incognito turns have nothing to poll for, so they are
// rejected here.
func (h *Handler) ChatAsync(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		fail(c, http.StatusBadRequest, 10002, "query required")
		return
	}

	meta := req.meta()
	if session.IsIncognito(meta) {
		fail(c, http.StatusBadRequest, 10004, "incognito not supported for async chat")
		return
	}

	if h.Rabbit == nil || h.Jobs == nil {
		fail(c, http.StatusServiceUnavailable, 50301, "async chat disabled")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	conversationID := meta.ConversationID
	if conversationID == "" {
		sess, err := h.Sessions.StartSession(c.Request.Context())
		if err != nil {
			log.Printf("[ChatAsync] StartSession failed err=%v", err)
			fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		conversationID = sess.ConversationID
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("[ChatAsync] NewULID failed conversation_id=%s err=%v", conversationID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &jobs.Job{
		ID:               jobID,
		ConversationID:   conversationID,
		Query:            req.Query,
		Language:         meta.Language,
		SourcePreference: meta.SourcePreference,
		IdempotencyKey:   idempoKeyPtr,
		Status:           jobs.StatusQueued,
	}

	j, created, err := h.Jobs.CreateOrGetExisting(c.Request.Context(), j)
	if err != nil {
		log.Printf("[ChatAsync] CreateOrGetExisting failed conversation_id=%s job_id=%s err=%v", conversationID, jobID, err)
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			log.Printf("[ChatAsync] PublishJob failed conversation_id=%s job_id=%s err=%v", conversationID, j.ID, err)
			fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	ok(c, gin.H{
		"job_id":          j.ID,
		"conversation_id": j.ConversationID,
		"status":          j.Status,
	})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	if h.Jobs == nil {
		fail(c, http.StatusServiceUnavailable, 50301, "async chat disabled")
		return
	}

	jobID := c.Param("job_id")
	if jobID == "" {
		fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	sources := j.SourceList()
	if sources == nil {
		sources = []string{}
	}
	ok(c, gin.H{
		"job": gin.H{
			"id":              j.ID,
			"conversation_id": j.ConversationID,
			"status":          j.Status,
			"answer":          j.Answer,
			"sources":         sources,
			"error":           j.Error,
			"created_at":      j.CreatedAt,
			"updated_at":      j.UpdatedAt,
		},
	})
}
