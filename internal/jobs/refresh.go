package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aulamcp/aula-mcp-server/internal/model"
)

type SummaryRefresher interface {
	GetSummary(ctx context.Context, force bool) (*model.Summary, error)
}

// RefreshJob keeps the summary cache warm. A cache younger than its TTL
// is left alone, so the portal is hit at most once per TTL.
type RefreshJob struct {
	refresher SummaryRefresher
	interval  time.Duration
	timeout   time.Duration
	done      chan struct{}
	stopped   chan struct{}
}

func NewRefreshJob(refresher SummaryRefresher, interval, timeout time.Duration) *RefreshJob {
	return &RefreshJob{
		refresher: refresher,
		interval:  interval,
		timeout:   timeout,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *RefreshJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("refresh job started")
}

// Stop waits for an in-flight refresh to finish.
func (j *RefreshJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("refresh job stopped")
}

func (j *RefreshJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.refresh()
		}
	}
}

func (j *RefreshJob) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.refresher.GetSummary(ctx, false)
	if err != nil {
		log.Error().Err(err).Msg("failed to refresh summary")
		return
	}
	log.Debug().Time("lastUpdated", summary.LastUpdated).Int("children", len(summary.Children)).Msg("summary refreshed")
}
