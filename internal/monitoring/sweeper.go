// Package monitoring runs the periodic session sweep and reports registry
// resource statistics.
package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/procmux/procmux/internal/logger"
)

// Reaper is the slice of the session registry the sweeper needs.
type Reaper interface {
	CleanupSessions() int
	SessionCount() int
}

// SweepStats holds the outcome of the most recent sweep.
type SweepStats struct {
	Timestamp   time.Time `json:"timestamp"`
	Reaped      int       `json:"reaped"`
	Sessions    int       `json:"sessions"`
	Goroutines  int       `json:"goroutines"`
	MemoryAlloc uint64    `json:"memory_alloc_mb"`
}

// Sweeper periodically reaps exited and ceiling-violating sessions.
type Sweeper struct {
	logger   *logger.Logger
	reaper   Reaper
	interval time.Duration

	mu     sync.RWMutex
	last   SweepStats
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
}

// NewSweeper creates a sweeper driving the given reaper.
func NewSweeper(log *logger.Logger, reaper Reaper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		logger:   log,
		reaper:   reaper,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. It runs until Stop is called or the
// context is cancelled. A panicking sweep is logged and the loop restarts
// on the next tick rather than dying.
func (s *Sweeper) Start(ctx context.Context) {
	s.ticker = time.NewTicker(s.interval)

	go func() {
		defer s.ticker.Stop()

		for {
			select {
			case <-s.ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("Session sweeper started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	s.logger.Info("Session sweeper stopped")
}

// LastStats returns the most recent sweep statistics.
func (s *Sweeper) LastStats() SweepStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Sweeper) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session sweep panicked", nil, map[string]interface{}{
				"panic": r,
			})
		}
	}()

	reaped := s.reaper.CleanupSessions()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := SweepStats{
		Timestamp:   time.Now(),
		Reaped:      reaped,
		Sessions:    s.reaper.SessionCount(),
		Goroutines:  runtime.NumGoroutine(),
		MemoryAlloc: m.Alloc / 1024 / 1024,
	}

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	if reaped > 0 {
		s.logger.Info("Session sweep completed", map[string]interface{}{
			"reaped":        reaped,
			"live_sessions": stats.Sessions,
			"goroutines":    stats.Goroutines,
			"memory_mb":     stats.MemoryAlloc,
		})
	}
}
