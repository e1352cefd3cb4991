package monitoring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/procmux/procmux/internal/config"
	"github.com/procmux/procmux/internal/logger"
)

type fakeReaper struct {
	cleanups int64
	sessions int64
}

func (f *fakeReaper) CleanupSessions() int {
	atomic.AddInt64(&f.cleanups, 1)
	return 2
}

func (f *fakeReaper) SessionCount() int {
	return int(atomic.LoadInt64(&f.sessions))
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&config.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	}, "test")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func TestSweeperRunsPeriodically(t *testing.T) {
	reaper := &fakeReaper{sessions: 3}
	sweeper := NewSweeper(newTestLogger(t), reaper, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start(ctx)
	defer sweeper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&reaper.cleanups) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if atomic.LoadInt64(&reaper.cleanups) < 2 {
		t.Fatal("sweeper never swept")
	}

	stats := sweeper.LastStats()
	if stats.Timestamp.IsZero() {
		t.Error("expected stats timestamp")
	}
	if stats.Reaped != 2 {
		t.Errorf("expected 2 reaped, got %d", stats.Reaped)
	}
	if stats.Sessions != 3 {
		t.Errorf("expected 3 sessions, got %d", stats.Sessions)
	}
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	reaper := &fakeReaper{}
	sweeper := NewSweeper(newTestLogger(t), reaper, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)

	time.Sleep(60 * time.Millisecond)
	cancel()
	time.Sleep(60 * time.Millisecond)

	before := atomic.LoadInt64(&reaper.cleanups)
	time.Sleep(100 * time.Millisecond)
	after := atomic.LoadInt64(&reaper.cleanups)

	if before != after {
		t.Errorf("sweeper kept running after cancel: %d -> %d", before, after)
	}
}

func TestSweeperDefaultInterval(t *testing.T) {
	sweeper := NewSweeper(newTestLogger(t), &fakeReaper{}, 0)
	if sweeper.interval != 30*time.Second {
		t.Errorf("expected 30s default interval, got %v", sweeper.interval)
	}
}
