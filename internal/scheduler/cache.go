package scheduler

import (
	"container/list"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// completedCache keeps the most recently finished jobs. Eviction is by
// completion order; reads do not refresh an entry.
type completedCache struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newCompletedCache(capacity int) *completedCache {
	return &completedCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (c *completedCache) add(job scrape.Job) {
	if el, ok := c.index[job.ID]; ok {
		c.order.Remove(el)
	}
	c.index[job.ID] = c.order.PushBack(job)
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(scrape.Job).ID)
	}
}

func (c *completedCache) get(jobID string) (scrape.Job, bool) {
	el, ok := c.index[jobID]
	if !ok {
		return scrape.Job{}, false
	}
	return el.Value.(scrape.Job), true
}

func (c *completedCache) len() int {
	return c.order.Len()
}
