package messages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/middleware"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/response"
)

// Handler exposes the message operations over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a messages handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Submit handles POST /messages. The body is multipart form data: the video
// under "video", plus duration_seconds, channel, and the recipient fields
// (recipient_id for internal, recipients as a comma-separated address list for
// external email).
func (h *Handler) Submit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}

	file, header, err := c.Request.FormFile("video")
	if err != nil {
		response.BadRequest(c, "missing video file")
		return
	}
	defer file.Close()

	duration, err := strconv.Atoi(c.PostForm("duration_seconds"))
	if err != nil {
		response.BadRequest(c, "missing or invalid duration_seconds")
		return
	}

	p := SubmitParams{
		SenderID:        userID,
		DurationSeconds: duration,
		Channel:         models.Channel(c.PostForm("channel")),
		MessageText:     c.PostForm("message_text"),
		Subject:         c.PostForm("subject"),
		Filename:        header.Filename,
		Video:           file,
		VideoSizeBytes:  header.Size,
	}
	if raw := c.PostForm("recipient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid recipient_id")
			return
		}
		p.RecipientID = id
	}
	if raw := c.PostForm("recipients"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				p.RecipientEmails = append(p.RecipientEmails, addr)
			}
		}
	}

	ids, err := h.svc.SubmitUpload(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, gin.H{"message_ids": ids})
}

// Inbox handles GET /messages.
func (h *Handler) Inbox(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}
	items, err := h.svc.ListInbox(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if items == nil {
		items = []models.InboxItem{}
	}
	response.OK(c, items)
}

// View handles GET /messages/:id/view, streaming the video inline.
func (h *Handler) View(c *gin.Context) {
	h.stream(c, h.svc.View, "inline")
}

// Download handles GET /messages/:id/download, streaming the video as an attachment.
func (h *Handler) Download(c *gin.Context) {
	h.stream(c, h.svc.Download, "attachment")
}

// Delete handles DELETE /messages/:id.
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, userID); err != nil {
		h.respondError(c, err)
		return
	}
	response.NoContent(c)
}

type streamFunc = func(ctx context.Context, messageID, requesterID uuid.UUID) (io.ReadCloser, *models.VideoMessage, error)

func (h *Handler) stream(c *gin.Context, fn streamFunc, disposition string) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}

	body, msg, err := fn(c.Request.Context(), id, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer body.Close()

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`%s; filename=%q`, disposition, msg.Filename),
	}
	c.DataFromReader(http.StatusOK, msg.CompressedSizeBytes, "video/mp4", body, headers)
}

// respondError maps the failure taxonomy to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, "message not found")
	case errors.Is(err, models.ErrForbidden):
		response.Forbidden(c, "not allowed")
	case errors.Is(err, models.ErrInvalidTransition):
		response.Conflict(c, err.Error())
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrRecipientUnresolved):
		response.BadRequest(c, err.Error())
	case errors.Is(err, models.ErrDurationExceeded),
		errors.Is(err, models.ErrBudgetUnattainable),
		errors.Is(err, models.ErrAttachmentTooLarge):
		response.UnprocessableEntity(c, err.Error())
	default:
		h.logger.Error("message operation failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}
