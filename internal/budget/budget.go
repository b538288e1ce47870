// Package budget computes the compressed-size budget for a video message.
//
// External email gets the provider's flat attachment cap regardless of
// duration. The internal channel scales on a configured schedule so short
// clips stay small in inbox storage; the schedule must be non-decreasing in
// duration and is capped at the channel ceiling.
package budget

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vidblink/backend/config"
	"github.com/vidblink/backend/internal/models"
)

const mb = int64(1024 * 1024)

// Step is one rung of the internal-channel schedule: videos up to
// MaxDurationSec get BudgetBytes.
type Step struct {
	MaxDurationSec int
	BudgetBytes    int64
}

// Calculator maps (duration, channel) to a byte budget. Pure and deterministic.
type Calculator struct {
	maxDurationSec int
	emailCapBytes  int64
	internalCap    int64
	schedule       []Step
}

// New builds a Calculator from config, validating the schedule.
func New(cfg config.BudgetConfig) (*Calculator, error) {
	if cfg.MaxDurationSec <= 0 {
		return nil, fmt.Errorf("max duration must be positive, got %d", cfg.MaxDurationSec)
	}
	schedule, err := parseSchedule(cfg.InternalSchedule)
	if err != nil {
		return nil, err
	}
	c := &Calculator{
		maxDurationSec: cfg.MaxDurationSec,
		emailCapBytes:  int64(cfg.EmailCapMB) * mb,
		internalCap:    int64(cfg.InternalCapMB) * mb,
		schedule:       schedule,
	}
	return c, nil
}

// Compute returns the byte budget for a video of the given duration on the
// given channel. Durations outside (0, max] are rejected with ErrDurationExceeded.
func (c *Calculator) Compute(durationSec int, ch models.Channel) (int64, error) {
	if durationSec <= 0 || durationSec > c.maxDurationSec {
		return 0, fmt.Errorf("duration %ds outside (0, %ds]: %w", durationSec, c.maxDurationSec, models.ErrDurationExceeded)
	}
	switch ch {
	case models.ChannelExternalEmail:
		// Email providers enforce a flat cap; duration does not matter.
		return c.emailCapBytes, nil
	case models.ChannelInternal:
		for _, step := range c.schedule {
			if durationSec <= step.MaxDurationSec {
				return min64(step.BudgetBytes, c.internalCap), nil
			}
		}
		return c.internalCap, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", ch)
	}
}

// MaxDurationSec returns the configured upload duration ceiling.
func (c *Calculator) MaxDurationSec() int { return c.maxDurationSec }

// TransportLimit returns the hard per-channel transport cap used for the
// defensive post-compression check.
func (c *Calculator) TransportLimit(ch models.Channel) int64 {
	if ch == models.ChannelExternalEmail {
		return c.emailCapBytes
	}
	return c.internalCap
}

// parseSchedule parses "30:2,60:5,180:15,600:50" (maxDurationSec:budgetMB)
// and enforces strictly increasing durations with non-decreasing budgets.
func parseSchedule(s string) ([]Step, error) {
	var steps []Step
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("bad schedule step %q", part)
		}
		dur, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || dur <= 0 {
			return nil, fmt.Errorf("bad schedule duration %q", fields[0])
		}
		budgetMB, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || budgetMB <= 0 {
			return nil, fmt.Errorf("bad schedule budget %q", fields[1])
		}
		steps = append(steps, Step{MaxDurationSec: dur, BudgetBytes: int64(budgetMB) * mb})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty budget schedule")
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].MaxDurationSec <= steps[i-1].MaxDurationSec {
			return nil, fmt.Errorf("schedule durations must increase: %d after %d", steps[i].MaxDurationSec, steps[i-1].MaxDurationSec)
		}
		if steps[i].BudgetBytes < steps[i-1].BudgetBytes {
			return nil, fmt.Errorf("schedule budgets must not decrease: %d after %d", steps[i].BudgetBytes, steps[i-1].BudgetBytes)
		}
	}
	return steps, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
