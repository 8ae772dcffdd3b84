package sync

import (
	"time"

	"github.com/pagesmith/pagesync/internal/models"
)

// Config contains engine tuning and policy.
type Config struct {
	// BatchSize is the remote delta page size.
	BatchSize int

	// MaxConcurrent bounds parallel entity application.
	MaxConcurrent int

	// RetryAttempts is the per-task retry budget.
	RetryAttempts int

	// RetryDelay is the initial backoff delay.
	RetryDelay time.Duration

	// Strategy selects conflict resolution.
	Strategy models.ResolutionStrategy

	// TimestampWindow is the proximity heuristic for timestamp conflicts.
	TimestampWindow time.Duration

	// ValidateIntegrity enables the post-cycle aggregate comparison.
	ValidateIntegrity bool
}

// DefaultConfig returns engine defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:         100,
		MaxConcurrent:     5,
		RetryAttempts:     3,
		RetryDelay:        time.Second,
		Strategy:          models.StrategyMerge,
		TimestampWindow:   time.Second,
		ValidateIntegrity: true,
	}
}
