package dispatch

import (
	"context"
	"time"
)

// MetricsRecorder observes service operations. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}
