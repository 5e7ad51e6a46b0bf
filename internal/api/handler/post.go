package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kaoru/booru/internal/domain"
	"github.com/kaoru/booru/internal/service"
	"github.com/kaoru/booru/internal/similarity"
)

// PostHandler handles post CRUD and upload endpoints.
type PostHandler struct {
	postService *service.PostService
	maxFileSize int64
}

// NewPostHandler creates a new post handler.
func NewPostHandler(postService *service.PostService, maxFileSize int64) *PostHandler {
	return &PostHandler{postService: postService, maxFileSize: maxFileSize}
}

// uploadForm is the JSON body of an upload-by-URL request.
type uploadForm struct {
	ContentURL string `json:"content_url" binding:"required,url"`
	Safety     string `json:"safety"`
	Source     string `json:"source"`
}

// Upload handles POST /api/v1/posts. Multipart requests carry the file in
// the "content" field; JSON requests carry a content_url instead.
func (h *PostHandler) Upload(c *gin.Context) {
	req := &service.UploadRequest{}

	if c.ContentType() == "application/json" {
		var form uploadForm
		if err := c.ShouldBindJSON(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		req.ContentURL = form.ContentURL
		req.Safety = domain.PostSafety(form.Safety)
		req.Source = form.Source
	} else {
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
		if int64(len(data)) > h.maxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		req.Data = data
		req.Safety = domain.PostSafety(c.PostForm("safety"))
		req.Source = c.PostForm("source")
	}

	result, err := h.postService.Upload(c.Request.Context(), req)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *PostHandler) writeUploadError(c *gin.Context, err error) {
	var conflict *similarity.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Duplicate upload",
			"post_id": conflict.ExistingPostID,
		})
	case similarity.IsUnsupportedMedia(err):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case similarity.IsDecode(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed: " + err.Error()})
	}
}

// Get handles GET /api/v1/posts/:id.
func (h *PostHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	post, err := h.postService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, post)
}

// List handles GET /api/v1/posts.
func (h *PostHandler) List(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "40"))

	posts, total, err := h.postService.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts": posts,
		"total": total,
	})
}

// Delete handles DELETE /api/v1/posts/:id.
func (h *PostHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	if err := h.postService.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// mergeForm is the JSON body of a merge request.
type mergeForm struct {
	SurvivorID int64 `json:"survivor_id" binding:"required"`
}

// Merge handles POST /api/v1/posts/:id/merge. The path post is superseded by
// the survivor named in the body.
func (h *PostHandler) Merge(c *gin.Context) {
	supersededID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}
	var form mergeForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	err = h.postService.Merge(c.Request.Context(), supersededID, form.SurvivorID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, domain.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSelfMerge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
