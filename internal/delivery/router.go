// Package delivery routes a compressed artifact onto its channel: the
// internal inbox, or outbound email per recipient.
package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/queue"
)

// EmailEnqueuer hands confirmed-compressed external messages to the email worker.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// TransportLimits exposes the per-channel hard transport caps.
type TransportLimits interface {
	TransportLimit(ch models.Channel) int64
}

// Router binds a finished artifact to its messages and kicks off the channel
// hand-off. The internal path is done once the artifact is attached; the
// external path enqueues one email job per recipient row.
type Router struct {
	manager *lifecycle.Manager
	emails  EmailEnqueuer
	limits  TransportLimits
	logger  *zap.Logger
}

// NewRouter creates a delivery router.
func NewRouter(manager *lifecycle.Manager, emails EmailEnqueuer, limits TransportLimits, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{manager: manager, emails: emails, limits: limits, logger: logger}
}

// Deliver attaches the artifact to every message in the batch and routes each
// one. The transport limit is re-checked per channel even though compression
// already fit the budget; an oversized artifact fails the whole batch rather
// than ever going out.
func (r *Router) Deliver(ctx context.Context, messageIDs []uuid.UUID, channel models.Channel, artifactRef string, sizeBytes int64) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("empty batch: %w", models.ErrRecipientUnresolved)
	}
	if limit := r.limits.TransportLimit(channel); sizeBytes > limit {
		for _, id := range messageIDs {
			if err := r.manager.Fail(ctx, id, "attachment exceeds transport limit"); err != nil {
				r.logger.Error("fail message", zap.String("message_id", id.String()), zap.Error(err))
			}
		}
		return fmt.Errorf("artifact %d bytes over %d limit: %w", sizeBytes, r.limits.TransportLimit(channel), models.ErrAttachmentTooLarge)
	}

	for _, id := range messageIDs {
		if err := r.manager.AttachArtifact(ctx, id, artifactRef, sizeBytes); err != nil {
			return fmt.Errorf("attach artifact to %s: %w", id, err)
		}
		if channel == models.ChannelExternalEmail {
			if err := r.emails.EnqueueEmail(ctx, queue.EmailPayload{MessageID: id}); err != nil {
				// The message stays Sent with its artifact; the sweep of the
				// email queue is the retry path, so surface the error.
				return fmt.Errorf("enqueue email for %s: %w", id, err)
			}
		}
		r.logger.Info("message delivered to channel",
			zap.String("message_id", id.String()),
			zap.String("channel", string(channel)),
			zap.Int64("size_bytes", sizeBytes),
		)
	}
	return nil
}
