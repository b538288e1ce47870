// Package messages exposes the five core operations of the delivery engine:
// submit, view, download, delete and inbox listing.
package messages

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/budget"
	"github.com/vidblink/backend/internal/directory"
	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/queue"
	"github.com/vidblink/backend/pkg/storage"
)

// BlobPutter is the slice of the blob store the submit path needs.
type BlobPutter interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
	Delete(ctx context.Context, key string) error
}

// CompressEnqueuer hands staged batches to the compression worker.
type CompressEnqueuer interface {
	EnqueueCompress(ctx context.Context, payload queue.CompressPayload) error
}

// Service orchestrates message operations. Requester identity is always an
// explicit parameter; nothing below the HTTP layer reads ambient auth state.
type Service struct {
	calc     *budget.Calculator
	resolver directory.Resolver
	manager  *lifecycle.Manager
	blobs    BlobPutter
	jobs     CompressEnqueuer
	logger   *zap.Logger
}

// NewService creates the message service.
func NewService(calc *budget.Calculator, resolver directory.Resolver, manager *lifecycle.Manager, blobs BlobPutter, jobs CompressEnqueuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		calc:     calc,
		resolver: resolver,
		manager:  manager,
		blobs:    blobs,
		jobs:     jobs,
		logger:   logger,
	}
}

// SubmitParams describes one send action.
type SubmitParams struct {
	SenderID        uuid.UUID
	DurationSeconds int
	Channel         models.Channel
	// RecipientID addresses the internal channel.
	RecipientID uuid.UUID
	// RecipientEmails address the external channel; one message row is
	// created per address.
	RecipientEmails []string
	Filename        string
	MessageText     string
	Subject         string
	Video           io.Reader
	VideoSizeBytes  int64
}

// SubmitUpload validates the send action, stages the raw video and enqueues
// compression. Validation failures surface before any record or byte is
// written. Returns the created message ids, one per recipient.
func (s *Service) SubmitUpload(ctx context.Context, p SubmitParams) ([]uuid.UUID, error) {
	if !p.Channel.Valid() {
		return nil, fmt.Errorf("unknown channel %q: %w", p.Channel, models.ErrInvalidInput)
	}
	if len(p.MessageText) > models.MaxMessageTextLen {
		return nil, fmt.Errorf("message text over %d characters: %w", models.MaxMessageTextLen, models.ErrInvalidInput)
	}
	if p.Video == nil || p.VideoSizeBytes <= 0 {
		return nil, fmt.Errorf("missing video: %w", models.ErrInvalidInput)
	}
	budgetBytes, err := s.calc.Compute(p.DurationSeconds, p.Channel)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	stagingKey := storage.StagingKey(batchID.String())
	rows, err := s.buildRows(ctx, p, batchID, budgetBytes, stagingKey)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, row := range rows {
		if err := s.manager.Store().Create(ctx, row); err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		ids = append(ids, row.ID)
	}

	if err := s.blobs.Put(ctx, stagingKey, "application/octet-stream", p.Video, p.VideoSizeBytes); err != nil {
		s.failBatch(ctx, ids, "staging upload failed")
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	for _, id := range ids {
		if err := s.manager.Store().MarkCompressing(ctx, id); err != nil {
			s.logger.Error("mark compressing", zap.String("message_id", id.String()), zap.Error(err))
		}
	}
	job := queue.CompressPayload{
		BatchID:     batchID,
		MessageIDs:  ids,
		StagingKey:  stagingKey,
		BudgetBytes: budgetBytes,
		Channel:     p.Channel,
	}
	if err := s.jobs.EnqueueCompress(ctx, job); err != nil {
		s.failBatch(ctx, ids, "compression enqueue failed")
		if derr := s.blobs.Delete(ctx, stagingKey); derr != nil {
			s.logger.Error("purge staging after enqueue failure", zap.String("key", stagingKey), zap.Error(derr))
		}
		return nil, fmt.Errorf("enqueue compress: %w", err)
	}

	s.logger.Info("upload accepted",
		zap.String("batch_id", batchID.String()),
		zap.String("channel", string(p.Channel)),
		zap.Int("recipients", len(ids)),
		zap.Int64("budget_bytes", budgetBytes),
	)
	return ids, nil
}

// buildRows resolves the recipient fields into unsaved message rows.
func (s *Service) buildRows(ctx context.Context, p SubmitParams, batchID uuid.UUID, budgetBytes int64, stagingKey string) ([]*models.VideoMessage, error) {
	base := models.VideoMessage{
		BatchID:                 batchID,
		SenderID:                p.SenderID,
		Channel:                 p.Channel,
		State:                   models.StateUploading,
		Filename:                p.Filename,
		MessageText:             strings.TrimSpace(p.MessageText),
		OriginalDurationSeconds: p.DurationSeconds,
		OriginalSizeBytes:       p.VideoSizeBytes,
		SizeBudgetBytes:         budgetBytes,
		StagingKey:              stagingKey,
	}

	switch p.Channel {
	case models.ChannelInternal:
		if p.RecipientID == uuid.Nil {
			return nil, fmt.Errorf("no recipient: %w", models.ErrRecipientUnresolved)
		}
		profile, err := s.resolver.ByID(ctx, p.RecipientID)
		if err != nil {
			return nil, err
		}
		row := base
		rid := profile.ID
		row.RecipientID = &rid
		return []*models.VideoMessage{&row}, nil

	case models.ChannelExternalEmail:
		if len(p.RecipientEmails) == 0 {
			return nil, fmt.Errorf("no recipients: %w", models.ErrRecipientUnresolved)
		}
		seen := make(map[string]bool)
		var rows []*models.VideoMessage
		for _, raw := range p.RecipientEmails {
			addr, err := directory.NormalizeEmail(raw)
			if err != nil {
				return nil, err
			}
			if seen[addr] {
				continue
			}
			seen[addr] = true
			row := base
			row.RecipientEmail = addr
			row.Subject = strings.TrimSpace(p.Subject)
			rows = append(rows, &row)
		}
		return rows, nil

	default:
		return nil, fmt.Errorf("unknown channel %q: %w", p.Channel, models.ErrInvalidInput)
	}
}

func (s *Service) failBatch(ctx context.Context, ids []uuid.UUID, reason string) {
	for _, id := range ids {
		if err := s.manager.Fail(ctx, id, reason); err != nil {
			s.logger.Error("fail message", zap.String("message_id", id.String()), zap.Error(err))
		}
	}
}

// View streams the artifact to its recipient, marking the message viewed.
func (s *Service) View(ctx context.Context, messageID, requesterID uuid.UUID) (io.ReadCloser, *models.VideoMessage, error) {
	return s.manager.View(ctx, messageID, requesterID)
}

// Download streams the artifact, marking the message downloaded (and deleted,
// when the cascade flag is on).
func (s *Service) Download(ctx context.Context, messageID, requesterID uuid.UUID) (io.ReadCloser, *models.VideoMessage, error) {
	return s.manager.Download(ctx, messageID, requesterID)
}

// Delete removes the message and its artifact. Irreversible.
func (s *Service) Delete(ctx context.Context, messageID, requesterID uuid.UUID) error {
	return s.manager.Delete(ctx, messageID, requesterID)
}

// ListInbox returns the requester's inbox, newest first.
func (s *Service) ListInbox(ctx context.Context, recipientID uuid.UUID) ([]models.InboxItem, error) {
	return s.manager.ListInbox(ctx, recipientID)
}
