package download

import (
	"time"

	"go.uber.org/zap"

	"github.com/handiism/tilefetch/internal/metrics"
)

// MaxBlockSize is the largest block a download reads between progress
// reports and cancellation checks.
const MaxBlockSize = 128 * 1000

// Options configures a Manager. Every field can be changed later through
// the Manager's setters.
type Options struct {
	// ConnectTimeout bounds the time until response headers arrive.
	ConnectTimeout time.Duration

	// ShutdownTimeout bounds how long Shutdown waits for downloads.
	ShutdownTimeout time.Duration

	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int

	// RetryDelay is the pause before each retry.
	RetryDelay time.Duration

	// MaxConcurrent is the number of downloads allowed to run at once.
	MaxConcurrent int

	// Priority is recorded for newly started downloads. Goroutines have no
	// OS priority, so it only shows up in logs.
	Priority int

	// ProgressInterval is the minimum time between progress callbacks.
	ProgressInterval time.Duration

	// BlockSize is the read size between progress and cancellation checks,
	// clamped to [1, MaxBlockSize].
	BlockSize int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns options with default values.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		RetryLimit:       0,
		RetryDelay:       0,
		MaxConcurrent:    100,
		Priority:         5,
		ProgressInterval: time.Second,
		BlockSize:        MaxBlockSize,
	}
}

func clampBlockSize(n int) int {
	return max(1, min(MaxBlockSize, n))
}

func clampProgressInterval(d time.Duration) time.Duration {
	return max(time.Millisecond, d)
}
