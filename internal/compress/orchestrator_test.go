package compress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidblink/backend/internal/models"
)

// fakeEncoder writes a file whose size depends on the tier, recording the
// order tiers were attempted in.
type fakeEncoder struct {
	sizes    map[string]int64 // tier name -> produced size
	attempts []string
	fail     error
}

func (f *fakeEncoder) Encode(ctx context.Context, srcPath, dstPath string, tier Tier) error {
	f.attempts = append(f.attempts, tier.Name)
	if f.fail != nil {
		return f.fail
	}
	size, ok := f.sizes[tier.Name]
	if !ok {
		size = 1
	}
	return os.WriteFile(dstPath, make([]byte, size), 0o600)
}

func newOrchestrator(t *testing.T, enc Encoder) *Orchestrator {
	t.Helper()
	return NewOrchestrator(enc, nil, t.TempDir(), nil)
}

func TestStepDownToFittingTier(t *testing.T) {
	enc := &fakeEncoder{sizes: map[string]int64{
		"high":   5000,
		"medium": 3000,
		"low":    900,
		"floor":  400,
	}}
	o := newOrchestrator(t, enc)

	res, err := o.Compress(context.Background(), "src.mp4", 1000)
	require.NoError(t, err)
	defer os.Remove(res.Path)

	assert.Equal(t, "low", res.Tier.Name)
	assert.LessOrEqual(t, res.SizeBytes, int64(1000))
	assert.Equal(t, []string{"high", "medium", "low"}, enc.attempts)

	// Only the accepted output survives.
	entries, err := os.ReadDir(filepath.Dir(res.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFirstTierFits(t *testing.T) {
	enc := &fakeEncoder{sizes: map[string]int64{"high": 100}}
	o := newOrchestrator(t, enc)

	res, err := o.Compress(context.Background(), "src.mp4", 1000)
	require.NoError(t, err)
	defer os.Remove(res.Path)

	assert.Equal(t, "high", res.Tier.Name)
	assert.Equal(t, []string{"high"}, enc.attempts)
}

func TestBudgetUnattainable(t *testing.T) {
	enc := &fakeEncoder{sizes: map[string]int64{
		"high":   5000,
		"medium": 4000,
		"low":    3000,
		"floor":  2000,
	}}
	dir := t.TempDir()
	o := NewOrchestrator(enc, nil, dir, nil)

	_, err := o.Compress(context.Background(), "src.mp4", 1000)
	assert.True(t, errors.Is(err, models.ErrBudgetUnattainable))
	assert.Equal(t, []string{"high", "medium", "low", "floor"}, enc.attempts)

	// No partial artifacts left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEncoderFailureCleansUp(t *testing.T) {
	enc := &fakeEncoder{fail: errors.New("encoder crashed")}
	dir := t.TempDir()
	o := NewOrchestrator(enc, nil, dir, nil)

	_, err := o.Compress(context.Background(), "src.mp4", 1000)
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeterministicTierSelection(t *testing.T) {
	sizes := map[string]int64{"high": 2000, "medium": 800}
	for i := 0; i < 3; i++ {
		enc := &fakeEncoder{sizes: sizes}
		o := newOrchestrator(t, enc)
		res, err := o.Compress(context.Background(), "src.mp4", 1000)
		require.NoError(t, err)
		assert.Equal(t, "medium", res.Tier.Name)
		os.Remove(res.Path)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enc := &fakeEncoder{}
	o := newOrchestrator(t, enc)

	_, err := o.Compress(ctx, "src.mp4", 1000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, enc.attempts)
}

func TestInvalidBudget(t *testing.T) {
	o := newOrchestrator(t, &fakeEncoder{})
	_, err := o.Compress(context.Background(), "src.mp4", 0)
	assert.Error(t, err)
}
