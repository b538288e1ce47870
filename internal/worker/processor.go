// Package worker runs the background pipeline: compressing staged uploads and
// sending external email deliveries.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/compress"
	"github.com/vidblink/backend/internal/delivery"
	"github.com/vidblink/backend/internal/directory"
	"github.com/vidblink/backend/internal/lifecycle"
	"github.com/vidblink/backend/internal/mailer"
	"github.com/vidblink/backend/internal/models"
	"github.com/vidblink/backend/pkg/queue"
	"github.com/vidblink/backend/pkg/storage"
)

// BlobStore is the slice of the blob store the pipeline needs.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}

// JobQueue is the queue surface the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job, queueKey string) error
}

// Processor executes compression and email jobs.
type Processor struct {
	queue        JobQueue
	blobs        BlobStore
	orchestrator *compress.Orchestrator
	router       *delivery.Router
	manager      *lifecycle.Manager
	mail         mailer.Mailer
	resolver     directory.Resolver
	tmpDir       string
	logger       *zap.Logger
}

// NewProcessor creates a job processor. mail may be nil when the external
// email channel is not configured; resolver may be nil to skip contact-book
// greeting personalization.
func NewProcessor(q JobQueue, blobs BlobStore, orchestrator *compress.Orchestrator, router *delivery.Router, manager *lifecycle.Manager, mail mailer.Mailer, resolver directory.Resolver, tmpDir string, logger *zap.Logger) *Processor {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		queue:        q,
		blobs:        blobs,
		orchestrator: orchestrator,
		router:       router,
		manager:      manager,
		mail:         mail,
		resolver:     resolver,
		tmpDir:       tmpDir,
		logger:       logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeCompress:
		var payload queue.CompressPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.processCompress(ctx, payload)
	case queue.JobTypeEmail:
		var payload queue.EmailPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.processEmail(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// processCompress pulls the staged upload, compresses it under the batch
// budget, stores the artifact and hands the batch to the delivery router. A
// budget that cannot be reached fails the batch permanently; nothing oversized
// ever leaves the pipeline.
func (p *Processor) processCompress(ctx context.Context, payload queue.CompressPayload) error {
	srcPath, err := p.stageToFile(ctx, payload.StagingKey, payload.BatchID.String()+".src")
	if err != nil {
		if os.IsNotExist(err) {
			// Staging blob already purged; the sweeper failed this batch.
			p.logger.Warn("staging blob gone, dropping job", zap.String("batch_id", payload.BatchID.String()))
			return nil
		}
		return err
	}
	defer os.Remove(srcPath)

	result, err := p.orchestrator.Compress(ctx, srcPath, payload.BudgetBytes)
	if err != nil {
		if errors.Is(err, models.ErrBudgetUnattainable) {
			p.failBatch(ctx, payload.MessageIDs, "video cannot fit the size budget")
			p.purgeStaging(ctx, payload.StagingKey)
			return nil // permanent, no retry
		}
		return err
	}
	defer os.Remove(result.Path)

	artifactRef := storage.ArtifactKey(payload.BatchID.String())
	out, err := os.Open(result.Path)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	err = p.blobs.Put(ctx, artifactRef, "video/mp4", out, result.SizeBytes)
	out.Close()
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	if err := p.router.Deliver(ctx, payload.MessageIDs, payload.Channel, artifactRef, result.SizeBytes); err != nil {
		if errors.Is(err, models.ErrAttachmentTooLarge) {
			// Rows already failed by the router; drop the orphan artifact.
			p.purgeStaging(ctx, payload.StagingKey)
			if derr := p.blobs.Delete(ctx, artifactRef); derr != nil {
				p.logger.Error("delete oversized artifact", zap.String("key", artifactRef), zap.Error(derr))
			}
			return nil
		}
		return err
	}

	p.purgeStaging(ctx, payload.StagingKey)
	p.logger.Info("batch compressed and delivered",
		zap.String("batch_id", payload.BatchID.String()),
		zap.String("tier", result.Tier.Name),
		zap.Int64("size_bytes", result.SizeBytes),
	)
	return nil
}

// processEmail sends one external message as an attachment. The artifact is
// destroyed only after the transport confirms hand-off; a failed send leaves
// the row Sent so the retry finds the bytes intact.
func (p *Processor) processEmail(ctx context.Context, payload queue.EmailPayload) error {
	if p.mail == nil {
		return fmt.Errorf("mailer not configured")
	}
	msg, err := p.manager.Store().Get(ctx, payload.MessageID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if msg.State != models.StateSent {
		// Already handed off or deleted out from under us.
		p.logger.Info("email job skipped", zap.String("message_id", msg.ID.String()), zap.String("state", string(msg.State)))
		return nil
	}

	attachPath, err := p.stageToFile(ctx, msg.ArtifactRef, msg.ID.String()+".mp4")
	if err != nil {
		return err
	}
	defer os.Remove(attachPath)

	subject := msg.Subject
	if subject == "" {
		subject = "You received a video message"
	}
	body := msg.MessageText
	if p.resolver != nil {
		if ct, err := p.resolver.ByEmail(ctx, msg.SenderID, msg.RecipientEmail); err == nil && ct.Name != "" {
			body = "Hi " + ct.Name + ",\n\n" + body
		}
	}
	err = p.mail.Send(ctx, mailer.Message{
		To:             msg.RecipientEmail,
		Subject:        subject,
		Body:           body,
		AttachmentPath: attachPath,
		AttachmentName: msg.Filename,
	})
	if err != nil {
		return fmt.Errorf("send email for %s: %w", msg.ID, err)
	}

	if err := p.manager.CompleteExternalDelivery(ctx, msg.ID); err != nil {
		// The email went out; a stale transition here means someone else
		// already finalized the row.
		if !errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
	}
	return nil
}

// stageToFile copies a blob into a temp file and returns its path.
func (p *Processor) stageToFile(ctx context.Context, key, name string) (string, error) {
	body, _, err := p.blobs.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	path := filepath.Join(p.tmpDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("copy blob %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (p *Processor) failBatch(ctx context.Context, ids []uuid.UUID, reason string) {
	for _, id := range ids {
		if err := p.manager.Fail(ctx, id, reason); err != nil {
			p.logger.Error("fail message", zap.String("message_id", id.String()), zap.Error(err))
		}
	}
}

func (p *Processor) purgeStaging(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := p.blobs.Delete(ctx, key); err != nil {
		p.logger.Error("delete staging blob", zap.String("key", key), zap.Error(err))
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, queueKey, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			if !p.backoff(ctx) {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, queueKey); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if !p.backoff(ctx) {
				return
			}
			continue
		}
	}
}

// backoff waits out the retry interval. Returns false when the context is
// cancelled so shutdown does not hang for the full backoff.
func (p *Processor) backoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		p.logger.Info("worker stopping")
		return false
	case <-time.After(queue.RetryBackoff):
		return true
	}
}
