package contacts

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/directory"
	"github.com/vidblink/backend/internal/middleware"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/response"
)

// CreateRequest is the body for POST /contacts.
type CreateRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
}

// Handler handles contact HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a contacts handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /contacts.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}
	list, err := h.repo.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list contacts", zap.Error(err))
		response.Internal(c, "failed to list contacts")
		return
	}
	if list == nil {
		list = []models.Contact{}
	}
	response.OK(c, list)
}

// Create handles POST /contacts.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	addr, err := directory.NormalizeEmail(req.Email)
	if err != nil {
		response.BadRequest(c, "invalid email address")
		return
	}
	ct, err := h.repo.Create(c.Request.Context(), userID, addr, req.Name)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			response.Conflict(c, "contact already exists")
			return
		}
		h.logger.Error("create contact", zap.Error(err))
		response.Internal(c, "failed to create contact")
		return
	}
	response.Created(c, ct)
}

// Delete handles DELETE /contacts/:id.
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid contact id")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "contact not found")
			return
		}
		h.logger.Error("delete contact", zap.Error(err))
		response.Internal(c, "failed to delete contact")
		return
	}
	response.NoContent(c)
}
