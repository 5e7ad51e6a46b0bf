package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kaoru/booru/internal/service"
	"github.com/kaoru/booru/internal/similarity"
)

// SearchHandler handles reverse image search.
type SearchHandler struct {
	postService *service.PostService
	maxFileSize int64
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(postService *service.PostService, maxFileSize int64) *SearchHandler {
	return &SearchHandler{postService: postService, maxFileSize: maxFileSize}
}

// ReverseSearch handles POST /api/v1/posts/reverse-search: the uploaded
// content is fingerprinted and checked against the corpus without being
// stored. An empty similar_posts list is a normal outcome, not an error.
func (h *SearchHandler) ReverseSearch(c *gin.Context) {
	file, header, err := c.Request.FormFile("content")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing content file"})
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read content"})
		return
	}

	result, err := h.postService.ReverseSearch(c.Request.Context(), data)
	if err != nil {
		switch {
		case similarity.IsUnsupportedMedia(err):
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		case similarity.IsDecode(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}
