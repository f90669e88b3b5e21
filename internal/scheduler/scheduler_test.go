package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/crawl"
)

type countingSweeper struct {
	sweeps atomic.Int64
}

func (s *countingSweeper) CrawlDueFacilities(context.Context) (crawl.BatchResult, error) {
	s.sweeps.Add(1)
	return crawl.BatchResult{}, nil
}

func TestSchedulerSweepsImmediatelyAndOnTicks(t *testing.T) {
	t.Parallel()

	sweeper := &countingSweeper{}
	s := New(20*time.Millisecond, sweeper, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return sweeper.sweeps.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

func TestSchedulerStopsWithoutSweepAfterCancel(t *testing.T) {
	t.Parallel()

	sweeper := &countingSweeper{}
	s := New(time.Hour, sweeper, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return sweeper.sweeps.Load() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.Equal(t, int64(1), sweeper.sweeps.Load())
}
