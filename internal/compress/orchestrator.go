// Package compress drives an external encoder to fit a video under a byte
// budget, stepping down through quality tiers until the output fits.
package compress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vidblink/backend/internal/models"
)

// Result is a successful compression outcome.
type Result struct {
	Path      string
	SizeBytes int64
	Tier      Tier
}

// Orchestrator owns the step-down retry policy. The tier walk is
// deterministic, so repeated runs over the same source and budget land on the
// same tier (byte counts of a lossy encoder may still vary slightly).
type Orchestrator struct {
	encoder Encoder
	tiers   []Tier
	tmpDir  string
	logger  *zap.Logger
}

// NewOrchestrator creates an orchestrator over the given encoder and tiers.
// tiers must be ordered highest quality first; empty means DefaultTiers.
func NewOrchestrator(encoder Encoder, tiers []Tier, tmpDir string, logger *zap.Logger) *Orchestrator {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{encoder: encoder, tiers: tiers, tmpDir: tmpDir, logger: logger}
}

// Compress encodes srcPath at decreasing quality until the output is within
// budgetBytes. Rejected tier outputs are removed before the next attempt; on
// any failure nothing is left behind. Returns ErrBudgetUnattainable when even
// the lowest tier exceeds the budget.
//
// The caller owns Result.Path and must remove it when done.
func (o *Orchestrator) Compress(ctx context.Context, srcPath string, budgetBytes int64) (*Result, error) {
	if budgetBytes <= 0 {
		return nil, fmt.Errorf("budget must be positive, got %d", budgetBytes)
	}
	for _, tier := range o.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dstPath := filepath.Join(o.tmpDir, fmt.Sprintf("%s.%s.mp4", filepath.Base(srcPath), tier.Name))
		if err := o.encoder.Encode(ctx, srcPath, dstPath, tier); err != nil {
			os.Remove(dstPath)
			return nil, fmt.Errorf("encode: %w", err)
		}
		info, err := os.Stat(dstPath)
		if err != nil {
			os.Remove(dstPath)
			return nil, fmt.Errorf("stat output: %w", err)
		}
		if info.Size() <= budgetBytes {
			o.logger.Info("compression fits budget",
				zap.String("tier", tier.Name),
				zap.Int64("size_bytes", info.Size()),
				zap.Int64("budget_bytes", budgetBytes),
			)
			return &Result{Path: dstPath, SizeBytes: info.Size(), Tier: tier}, nil
		}
		o.logger.Debug("tier over budget, stepping down",
			zap.String("tier", tier.Name),
			zap.Int64("size_bytes", info.Size()),
			zap.Int64("budget_bytes", budgetBytes),
		)
		if err := os.Remove(dstPath); err != nil {
			o.logger.Warn("remove rejected tier output", zap.String("path", dstPath), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("lowest tier still over %d bytes: %w", budgetBytes, models.ErrBudgetUnattainable)
}
