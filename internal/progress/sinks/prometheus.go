package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-scraper/internal/progress"
)

// PrometheusSink exports job-update events as metrics. The progress gauge is
// removed once a job reaches a terminal status to bound label cardinality.
type PrometheusSink struct {
	updates  *prometheus.CounterVec
	progress *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_job_updates_total",
			Help: "Job-update events partitioned by status.",
		}, []string{"status"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_job_progress",
			Help: "Latest reported progress (0-100) of running jobs.",
		}, []string{"job_id"}),
	}
	for _, collector := range []prometheus.Collector{s.updates, s.progress} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from job-update events and ignores the rest.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		update, ok := evt.JobUpdate()
		if !ok {
			continue
		}
		s.updates.WithLabelValues(string(update.Status)).Inc()
		if update.Status.IsTerminal() {
			s.progress.DeleteLabelValues(update.JobID)
			continue
		}
		s.progress.WithLabelValues(update.JobID).Set(float64(update.Progress))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
