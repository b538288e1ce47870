package compress

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// Tier is one quality preset for the external encoder. Tiers are tried from
// highest quality downward until the output fits the budget.
type Tier struct {
	Name        string
	CRF         int
	MaxRateKbps int
	ScaleHeight int
}

// DefaultTiers is the step-down ladder, highest quality first.
var DefaultTiers = []Tier{
	{Name: "high", CRF: 23, MaxRateKbps: 4000, ScaleHeight: 1080},
	{Name: "medium", CRF: 28, MaxRateKbps: 2000, ScaleHeight: 720},
	{Name: "low", CRF: 33, MaxRateKbps: 1000, ScaleHeight: 480},
	{Name: "floor", CRF: 38, MaxRateKbps: 500, ScaleHeight: 360},
}

// Encoder produces a compressed copy of srcPath at dstPath using the tier's
// preset. Implementations must leave no output file behind on error.
type Encoder interface {
	Encode(ctx context.Context, srcPath, dstPath string, tier Tier) error
}

// FFmpeg drives the ffmpeg binary. H.264 + AAC in an mp4 container with
// faststart so recipients can begin playback before the download completes.
type FFmpeg struct {
	binPath string
	logger  *zap.Logger
}

// NewFFmpeg creates an ffmpeg-backed encoder. binPath defaults to "ffmpeg" on PATH.
func NewFFmpeg(binPath string, logger *zap.Logger) *FFmpeg {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{binPath: binPath, logger: logger}
}

// Encode transcodes srcPath into dstPath with the tier preset.
func (f *FFmpeg) Encode(ctx context.Context, srcPath, dstPath string, tier Tier) error {
	bufsize := tier.MaxRateKbps * 2
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", srcPath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", strconv.Itoa(tier.CRF),
		"-maxrate", fmt.Sprintf("%dk", tier.MaxRateKbps),
		"-bufsize", fmt.Sprintf("%dk", bufsize),
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", tier.ScaleHeight),
		"-c:a", "aac",
		"-b:a", "96k",
		"-movflags", "+faststart",
		"-y", dstPath,
	}
	cmd := exec.CommandContext(ctx, f.binPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		f.logger.Warn("ffmpeg failed",
			zap.String("tier", tier.Name),
			zap.String("output", string(out)),
			zap.Error(err),
		)
		return fmt.Errorf("ffmpeg tier %s: %w", tier.Name, err)
	}
	return nil
}
