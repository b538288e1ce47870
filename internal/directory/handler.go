package directory

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/response"
)

// Handler exposes recipient search over HTTP.
type Handler struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewHandler creates a directory handler.
func NewHandler(resolver Resolver, logger *zap.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

// Search handles GET /users/search?q=fragment.
func (h *Handler) Search(c *gin.Context) {
	fragment := strings.TrimSpace(c.Query("q"))
	if fragment == "" {
		response.BadRequest(c, "missing query")
		return
	}
	profiles, err := h.resolver.ByUsernameFragment(c.Request.Context(), fragment)
	if err != nil {
		h.logger.Error("recipient search failed", zap.Error(err))
		response.Internal(c, "search failed")
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	response.OK(c, profiles)
}
