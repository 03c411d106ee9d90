package scheduler

import "time"

// Config bounds admission and request normalisation.
type Config struct {
	Concurrency        int
	CompletedCacheSize int
	AverageJobDuration time.Duration
	// StoreTimeout bounds every store write issued by a worker.
	StoreTimeout time.Duration

	DefaultDepth    int
	MaxDepth        int
	DefaultMaxPages int
	MaxPagesLimit   int
	Cooldown        time.Duration

	// ArchivePrefix is the blob path prefix for archived results.
	ArchivePrefix string
}

// Defaults used when a Config field is zero.
const (
	DefaultConcurrency        = 3
	DefaultCompletedCacheSize = 100
	DefaultAverageJobDuration = 60 * time.Second
	DefaultStoreTimeout       = 10 * time.Second
	DefaultDepth              = 2
	DefaultMaxDepth           = 5
	DefaultMaxPages           = 50
	DefaultMaxPagesLimit      = 500
	DefaultCooldown           = 24 * time.Hour
	DefaultArchivePrefix      = "results"
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.CompletedCacheSize <= 0 {
		c.CompletedCacheSize = DefaultCompletedCacheSize
	}
	if c.AverageJobDuration <= 0 {
		c.AverageJobDuration = DefaultAverageJobDuration
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.DefaultDepth <= 0 {
		c.DefaultDepth = min(DefaultDepth, c.MaxDepth)
	}
	if c.MaxPagesLimit <= 0 {
		c.MaxPagesLimit = DefaultMaxPagesLimit
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = min(DefaultMaxPages, c.MaxPagesLimit)
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = DefaultArchivePrefix
	}
	return c
}
