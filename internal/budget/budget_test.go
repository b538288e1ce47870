package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidblink/backend/config"
	"github.com/vidblink/backend/internal/models"
)

func defaultConfig() config.BudgetConfig {
	return config.BudgetConfig{
		MaxDurationSec:   600,
		EmailCapMB:       25,
		InternalCapMB:    50,
		InternalSchedule: "30:2,60:5,180:15,600:50",
	}
}

func TestEmailBudgetIsFlat(t *testing.T) {
	c, err := New(defaultConfig())
	require.NoError(t, err)

	for d := 1; d <= 600; d++ {
		got, err := c.Compute(d, models.ChannelExternalEmail)
		require.NoError(t, err)
		assert.Equal(t, int64(25*1024*1024), got, "duration %d", d)
	}
}

func TestInternalBudgetMonotone(t *testing.T) {
	c, err := New(defaultConfig())
	require.NoError(t, err)

	prev := int64(0)
	for d := 1; d <= 600; d++ {
		got, err := c.Compute(d, models.ChannelInternal)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev, "budget decreased at duration %d", d)
		assert.LessOrEqual(t, got, int64(50*1024*1024))
		prev = got
	}
}

func TestInternalSchedulePoints(t *testing.T) {
	c, err := New(defaultConfig())
	require.NoError(t, err)

	tests := []struct {
		duration int
		wantMB   int64
	}{
		{1, 2},
		{30, 2},
		{31, 5},
		{60, 5},
		{61, 15},
		{180, 15},
		{181, 50},
		{600, 50},
	}
	for _, tt := range tests {
		got, err := c.Compute(tt.duration, models.ChannelInternal)
		require.NoError(t, err)
		assert.Equal(t, tt.wantMB*1024*1024, got, "duration %d", tt.duration)
	}
}

func TestDurationBounds(t *testing.T) {
	c, err := New(defaultConfig())
	require.NoError(t, err)

	for _, d := range []int{-5, 0, 601, 10000} {
		_, err := c.Compute(d, models.ChannelInternal)
		assert.True(t, errors.Is(err, models.ErrDurationExceeded), "duration %d", d)
		_, err = c.Compute(d, models.ChannelExternalEmail)
		assert.True(t, errors.Is(err, models.ErrDurationExceeded), "duration %d", d)
	}
}

func TestDeterministic(t *testing.T) {
	c, err := New(defaultConfig())
	require.NoError(t, err)

	a, err := c.Compute(90, models.ChannelInternal)
	require.NoError(t, err)
	b, err := c.Compute(90, models.ChannelInternal)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScheduleValidation(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"valid", "30:2,60:5", false},
		{"single step", "600:50", false},
		{"empty", "", true},
		{"decreasing budget", "30:10,60:5", true},
		{"non-increasing duration", "60:5,60:10", true},
		{"garbage", "abc", true},
		{"zero budget", "30:0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.InternalSchedule = tt.schedule
			_, err := New(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransportLimit(t *testing.T) {
	c, err := New(defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, int64(25*1024*1024), c.TransportLimit(models.ChannelExternalEmail))
	assert.Equal(t, int64(50*1024*1024), c.TransportLimit(models.ChannelInternal))
}
