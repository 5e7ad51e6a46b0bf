package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kaoru/booru/internal/logger"
	"github.com/kaoru/booru/internal/service"
	"github.com/kaoru/booru/internal/similarity"
)

// AdminHandler handles maintenance endpoints.
type AdminHandler struct {
	postService *service.PostService
	engine      *similarity.Engine
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(postService *service.PostService, engine *similarity.Engine) *AdminHandler {
	return &AdminHandler{postService: postService, engine: engine}
}

// Reindex handles POST /api/v1/admin/reindex. The rebuild runs in the
// background; poll ReindexStatus for progress.
func (h *AdminHandler) Reindex(c *gin.Context) {
	if h.engine.Rebuilding() {
		c.JSON(http.StatusConflict, gin.H{"error": "Reindex already in progress"})
		return
	}

	go func() {
		// Detached from the request: the rebuild outlives the HTTP call.
		ctx := context.Background()
		if _, err := h.postService.Reindex(ctx); err != nil && !errors.Is(err, similarity.ErrRebuildInProgress) {
			logger.CtxError(ctx, "background reindex failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "reindex started"})
}

// ReindexStatus handles GET /api/v1/admin/reindex. It reports whether a
// rebuild is running and how many posts it has indexed so far.
func (h *AdminHandler) ReindexStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rebuilding":    h.engine.Rebuilding(),
		"indexed_posts": h.engine.RebuildProgress(),
	})
}

// Consistency handles GET /api/v1/admin/consistency, verifying that the
// exact-match table and the signature index agree. A mismatch is reported as
// a critical condition; the remedy is a forced reindex.
func (h *AdminHandler) Consistency(c *gin.Context) {
	if err := h.engine.CheckConsistency(); err != nil {
		logger.CtxError(c.Request.Context(), "index consistency check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "consistent",
		"indexed_posts": h.engine.Len(),
	})
}
