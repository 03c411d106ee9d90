// Package priority provides the three-tier job queue used by the scheduler.
package priority

import "github.com/JakeFAU/site-scraper/internal/scrape"

// Queue holds queued jobs in three FIFO tiers. Pop is strict priority: a tier is
// only consulted when every higher tier is empty.
//
// Queue is not safe for concurrent use; the scheduler guards it with its own
// mutex so the whole dispatch decision stays atomic.
type Queue struct {
	tiers map[scrape.Priority][]scrape.Job
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		tiers: make(map[scrape.Priority][]scrape.Job, len(scrape.Priorities)),
	}
}

// Push appends the job to the tail of its tier. Unknown priorities land in the
// normal tier.
func (q *Queue) Push(job scrape.Job) {
	tier := job.Priority
	switch tier {
	case scrape.PriorityHigh, scrape.PriorityNormal, scrape.PriorityLow:
	default:
		tier = scrape.PriorityNormal
	}
	q.tiers[tier] = append(q.tiers[tier], job)
}

// Pop removes and returns the oldest job of the highest non-empty tier.
func (q *Queue) Pop() (scrape.Job, bool) {
	for _, tier := range scrape.Priorities {
		jobs := q.tiers[tier]
		if len(jobs) == 0 {
			continue
		}
		job := jobs[0]
		jobs[0] = scrape.Job{}
		q.tiers[tier] = jobs[1:]
		return job, true
	}
	return scrape.Job{}, false
}

// Remove deletes a queued job by ID, preserving the order of the rest.
func (q *Queue) Remove(jobID string) (scrape.Job, bool) {
	for _, tier := range scrape.Priorities {
		jobs := q.tiers[tier]
		for i, job := range jobs {
			if job.ID != jobID {
				continue
			}
			q.tiers[tier] = append(jobs[:i:i], jobs[i+1:]...)
			return job, true
		}
	}
	return scrape.Job{}, false
}

// Get returns a queued job without removing it.
func (q *Queue) Get(jobID string) (scrape.Job, bool) {
	for _, tier := range scrape.Priorities {
		for _, job := range q.tiers[tier] {
			if job.ID == jobID {
				return job, true
			}
		}
	}
	return scrape.Job{}, false
}

// Position returns how many jobs would be dispatched before jobID, or -1.
func (q *Queue) Position(jobID string) int {
	ahead := 0
	for _, tier := range scrape.Priorities {
		for _, job := range q.tiers[tier] {
			if job.ID == jobID {
				return ahead
			}
			ahead++
		}
	}
	return -1
}

// Len returns the number of queued jobs across all tiers.
func (q *Queue) Len() int {
	total := 0
	for _, jobs := range q.tiers {
		total += len(jobs)
	}
	return total
}

// LenByTier reports the depth of every tier.
func (q *Queue) LenByTier() map[scrape.Priority]int {
	out := make(map[scrape.Priority]int, len(scrape.Priorities))
	for _, tier := range scrape.Priorities {
		out[tier] = len(q.tiers[tier])
	}
	return out
}
