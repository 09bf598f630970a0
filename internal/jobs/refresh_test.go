package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aulamcp/aula-mcp-server/internal/model"
)

type mockRefresher struct {
	calls  atomic.Int32
	forced atomic.Bool
	err    error
}

func (m *mockRefresher) GetSummary(ctx context.Context, force bool) (*model.Summary, error) {
	m.calls.Add(1)
	if force {
		m.forced.Store(true)
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("missing deadline")
	}
	if m.err != nil {
		return nil, m.err
	}
	return &model.Summary{LastUpdated: time.Now()}, nil
}

func TestRefreshJob(t *testing.T) {
	t.Run("refreshes on every tick without forcing", func(t *testing.T) {
		refresher := &mockRefresher{}
		job := NewRefreshJob(refresher, 10*time.Millisecond, time.Second)

		job.Start()
		assert.Eventually(t, func() bool { return refresher.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		job.Stop()

		assert.False(t, refresher.forced.Load())
	})

	t.Run("stop halts further refreshes", func(t *testing.T) {
		refresher := &mockRefresher{}
		job := NewRefreshJob(refresher, 10*time.Millisecond, time.Second)

		job.Start()
		assert.Eventually(t, func() bool { return refresher.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
		job.Stop()

		after := refresher.calls.Load()
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, after, refresher.calls.Load())
	})

	t.Run("keeps running after an error", func(t *testing.T) {
		refresher := &mockRefresher{err: errors.New("portal down")}
		job := NewRefreshJob(refresher, 10*time.Millisecond, time.Second)

		job.Start()
		assert.Eventually(t, func() bool { return refresher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		job.Stop()
	})
}
