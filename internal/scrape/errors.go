package scrape

import "errors"

// Error taxonomy. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest rejects malformed submissions.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPersistence means the job store was unavailable or a write failed.
	ErrPersistence = errors.New("persistence error")
	// ErrDiscovery marks fetch failures during the crawl; never fatal to a job.
	ErrDiscovery = errors.New("discovery error")
	// ErrExtractor marks a failed extractor; its section falls back to the default.
	ErrExtractor = errors.New("extractor error")
	// ErrPipeline is an unexpected failure inside the job pipeline itself.
	ErrPipeline = errors.New("pipeline error")
)
