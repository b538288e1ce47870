package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper forces messages stuck in Compressing past the timeout to Failed and
// purges their staged bytes. A crash mid-compression therefore never leaves a
// message claiming a non-existent artifact.
type Sweeper struct {
	store    Store
	blobs    BlobStore
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper for stuck compression jobs.
func NewSweeper(store Store, blobs BlobStore, timeout, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, blobs: blobs, timeout: timeout, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle sweeper stopping")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass over stale Compressing rows.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.timeout)
	stale, err := s.store.StaleCompressing(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, msg := range stale {
		if err := s.store.MarkFailed(ctx, msg.ID, "compression timed out"); err != nil {
			// Another worker may have resolved it between the scan and now.
			s.logger.Debug("stale row resolved concurrently", zap.String("message_id", msg.ID.String()), zap.Error(err))
			continue
		}
		if msg.StagingKey != "" {
			if err := s.blobs.Delete(ctx, msg.StagingKey); err != nil {
				s.logger.Error("purge staging failed", zap.String("key", msg.StagingKey), zap.Error(err))
			}
		}
		s.logger.Warn("forced stuck compression to failed", zap.String("message_id", msg.ID.String()))
	}
	return nil
}
