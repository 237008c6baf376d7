package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tootplan/internal/usecase"
	"tootplan/pkg/logger"

	"github.com/gin-gonic/gin"
)

type PostHandler struct {
	postUseCase usecase.PostUseCase
	logger      *logger.Logger
}

func NewPostHandler(postUseCase usecase.PostUseCase, logger *logger.Logger) *PostHandler {
	return &PostHandler{
		postUseCase: postUseCase,
		logger:      logger,
	}
}

type CreatePostRequest struct {
	Content     string     `json:"content" binding:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	AccountIDs  []string   `json:"account_ids" binding:"required"`
}

// CreatePost godoc
// @Summary      Create a post
// @Description  Create a post for one or more accounts. Omit scheduled_at to publish immediately.
// @Tags         posts
// @Accept       json
// @Produce      json
// @Param        request body CreatePostRequest true "Post data"
// @Success      201  {array}   entity.Post
// @Failure      400  {object}  map[string]string
// @Router       /posts [post]
func (h *PostHandler) CreatePost(c *gin.Context) {
	userID := c.GetString("user_id")

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	posts, err := h.postUseCase.CreatePosts(c.Request.Context(), userID, req.Content, req.ScheduledAt, req.AccountIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"posts": posts})
}

// ListPosts godoc
// @Summary      List posts
// @Description  List the user's posts, newest scheduled first, optionally filtered by status
// @Tags         posts
// @Produce      json
// @Param        status query string false "Filter by status (scheduled, publishing, published, failed)"
// @Param        limit  query int    false "Page size"
// @Param        offset query int    false "Page offset"
// @Success      200  {array}   entity.Post
// @Router       /posts [get]
func (h *PostHandler) ListPosts(c *gin.Context) {
	userID := c.GetString("user_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")

	posts, err := h.postUseCase.ListPosts(userID, status, limit, offset)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidStatusFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to list posts for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (h *PostHandler) GetPost(c *gin.Context) {
	userID := c.GetString("user_id")
	postID := c.Param("id")

	post, err := h.postUseCase.GetPost(postID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, post)
}

// RetryPost godoc
// @Summary      Retry a post
// @Description  Attempt to publish a failed or scheduled post again immediately
// @Tags         posts
// @Produce      json
// @Param        id path string true "Post ID"
// @Success      200  {object}  entity.Post
// @Failure      409  {object}  map[string]string
// @Router       /posts/{id}/retry [post]
func (h *PostHandler) RetryPost(c *gin.Context) {
	userID := c.GetString("user_id")
	postID := c.Param("id")

	post, err := h.postUseCase.RetryPost(c.Request.Context(), postID, userID)
	if err != nil {
		if err.Error() == "post not found" {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) DeletePost(c *gin.Context) {
	userID := c.GetString("user_id")
	postID := c.Param("id")

	if err := h.postUseCase.DeletePost(postID, userID); err != nil {
		if err.Error() == "post not found" {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "post deleted"})
}
