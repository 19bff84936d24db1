package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/telkom-research/paperchat/internal/config"
	"github.com/telkom-research/paperchat/internal/jobs"
	"github.com/telkom-research/paperchat/internal/retrieval"
	"github.com/telkom-research/paperchat/internal/session"
	"github.com/telkom-research/paperchat/internal/store/gormlog"
	"github.com/telkom-research/paperchat/internal/store/rabbitmq"
	"github.com/telkom-research/paperchat/internal/stream"
)

type Handler struct {
	Cfg        config.Config
	Sessions   *session.Manager
	Dispatcher *stream.Dispatcher
	Retriever  retrieval.Retriever
	Durable    *gormlog.Log
	Jobs       *jobs.Repo
	Rabbit     *rabbitmq.Publisher // nil disables async chat
}

func NewHandler(cfg config.Config, sessions *session.Manager, dispatcher *stream.Dispatcher, retriever retrieval.Retriever, durable *gormlog.Log, jobsRepo *jobs.Repo, rabbit *rabbitmq.Publisher) *Handler {
	return &Handler{
		Cfg:        cfg,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Retriever:  retriever,
		Durable:    durable,
		Jobs:       jobsRepo,
		Rabbit:     rabbit,
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}
