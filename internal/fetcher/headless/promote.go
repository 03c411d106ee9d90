package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Promoter fetches with the plain fetcher and re-fetches through the renderer
// when the detector flags the probe. Renderer failures keep the probe.
type Promoter struct {
	plain    scrape.Fetcher
	renderer scrape.Fetcher
	detector scrape.HeadlessDetector
	logger   *zap.Logger
}

var _ scrape.Fetcher = (*Promoter)(nil)

// NewPromoter wires the two fetchers together.
func NewPromoter(plain, renderer scrape.Fetcher, detector scrape.HeadlessDetector, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		plain:    plain,
		renderer: renderer,
		detector: detector,
		logger:   logger.Named("headless"),
	}
}

// Fetch implements scrape.Fetcher.
func (p *Promoter) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	if request.UseHeadless {
		return p.renderer.Fetch(ctx, request)
	}
	probe, err := p.plain.Fetch(ctx, request)
	if err != nil {
		return probe, err
	}
	if p.detector == nil || !p.detector.ShouldPromote(probe) {
		return probe, nil
	}
	rendered, err := p.renderer.Fetch(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return scrape.FetchResponse{}, ctx.Err()
		}
		p.logger.Warn("headless render failed, using probe",
			zap.String("job_id", request.JobID),
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return probe, nil
	}
	p.logger.Debug("promoted to headless",
		zap.String("job_id", request.JobID),
		zap.String("url", request.URL),
	)
	return rendered, nil
}
