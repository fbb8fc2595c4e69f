package service

import (
	"context"
	"sync"
	"time"

	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"

	"github.com/rs/zerolog"
)

// Job is one periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // per tick; zero means Interval
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker. Ticks of the same job never
// overlap; a slow tick delays the next one.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger
}

// NewScheduler creates a Scheduler. Jobs with a non-positive interval are skipped.
func NewScheduler(log zerolog.Logger, jobs ...Job) *Scheduler {
	s := &Scheduler{log: log.With().Str("component", "scheduler").Logger()}
	for _, j := range jobs {
		if j.Interval <= 0 || j.Run == nil {
			s.log.Warn().Str("job", j.Name).Msg("job disabled")
			continue
		}
		s.jobs = append(s.jobs, j)
	}
	return s
}

// Run blocks until ctx is cancelled and every running tick has returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, j Job) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = j.Interval
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job", j.Name).Interface("panic", r).Msg("job panicked")
		}
	}()

	start := time.Now()
	if err := j.Run(tctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Str("job", j.Name).Dur("elapsed", time.Since(start)).Msg("job failed")
	}
}

// QueueGauges returns a job body that refreshes the queue depth gauges.
func QueueGauges(store ports.QueueStore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		depths, err := store.Depth(ctx)
		if err != nil {
			return err
		}
		metrics.RecordQueueDepth(depths)
		return nil
	}
}
