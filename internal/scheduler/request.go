package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/site-scraper/internal/extract"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// SubmitRequest is the caller-supplied shape of a new job. Nil pointers and
// empty strings select configured defaults.
type SubmitRequest struct {
	Domain         string   `json:"domain"`
	Depth          *int     `json:"depth,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	MaxPages       *int     `json:"maxPages,omitempty"`
	Extractors     []string `json:"extractors,omitempty"`
	BypassCooldown bool     `json:"bypassCooldown,omitempty"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID         string           `json:"jobId"`
	Status        scrape.JobStatus `json:"status"`
	EstimatedTime time.Duration    `json:"-"`
}

// CancelResult reports the outcome of a cancellation request.
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Queued      map[scrape.Priority]int `json:"queued"`
	QueueDepth  int                     `json:"queueDepth"`
	Active      int                     `json:"active"`
	Completed   int                     `json:"completed"`
	Concurrency int                     `json:"concurrency"`
	Running     bool                    `json:"running"`
}

// normalize validates req and fills defaults. Depth and page limits are
// clamped rather than rejected.
func (c Config) normalize(req SubmitRequest) (scrape.Job, error) {
	domain, err := scrape.NormalizeDomain(req.Domain)
	if err != nil {
		return scrape.Job{}, err
	}
	priority, err := scrape.ParsePriority(req.Priority)
	if err != nil {
		return scrape.Job{}, err
	}
	kinds, err := extract.ParseKinds(req.Extractors)
	if err != nil {
		return scrape.Job{}, err
	}

	depth := c.DefaultDepth
	if req.Depth != nil {
		if *req.Depth < 0 {
			return scrape.Job{}, fmt.Errorf("%w: depth must be >= 0", scrape.ErrInvalidRequest)
		}
		depth = *req.Depth
	}
	maxPages := c.DefaultMaxPages
	if req.MaxPages != nil {
		if *req.MaxPages <= 0 {
			return scrape.Job{}, fmt.Errorf("%w: maxPages must be > 0", scrape.ErrInvalidRequest)
		}
		maxPages = *req.MaxPages
	}

	var extractors []string
	for _, k := range kinds {
		extractors = append(extractors, string(k))
	}
	return scrape.Job{
		Domain:         domain,
		Depth:          min(depth, c.MaxDepth),
		Priority:       priority,
		MaxPages:       min(maxPages, c.MaxPagesLimit),
		Extractors:     extractors,
		BypassCooldown: req.BypassCooldown,
	}, nil
}

// estimate returns ceil((ahead+active)/concurrency + 1) average job durations.
func (c Config) estimate(ahead, active int) time.Duration {
	rounds := math.Ceil(float64(ahead+active)/float64(c.Concurrency) + 1)
	return time.Duration(rounds) * c.AverageJobDuration
}
