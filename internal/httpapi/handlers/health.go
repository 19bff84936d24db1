package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

const version = "0.1.0"

func (h *Handler) Health(c *gin.Context) {
	ok(c, gin.H{
		"status":    "up",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
