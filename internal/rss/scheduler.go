package rss

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CycleTimeout bounds one scheduled poll cycle.
const CycleTimeout = 30 * time.Minute

// Scheduler runs Poller.CheckFeeds once at start and then every refresh
// interval. A cycle that is still running when the next one is due is skipped.
type Scheduler struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	cron     *cron.Cron
	job      cron.Job
	jobID    cron.EntryID
	interval int
	poller   *Poller
	logger   *zap.Logger
}

// NewScheduler creates a scheduler polling every intervalMinutes.
func NewScheduler(poller *Poller, intervalMinutes int, logger *zap.Logger) (*Scheduler, error) {
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}

	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl)),
		poller: poller,
		logger: logger,
	}
	// One wrapped job shared by the startup run and every tick, so they skip each other.
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.run))
	if err := s.Reschedule(intervalMinutes); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs a poll cycle in the background and begins cron execution.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Interval returns the current interval in minutes.
func (s *Scheduler) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Reschedule changes the poll interval. It is a no-op when the interval is unchanged.
func (s *Scheduler) Reschedule(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("refresh interval must be at least 1 minute, got %d", minutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobID != 0 && s.interval == minutes {
		return nil
	}
	id := s.cron.Schedule(cron.Every(time.Duration(minutes)*time.Minute), s.job)
	if s.jobID != 0 {
		s.cron.Remove(s.jobID)
	}
	s.jobID = id
	s.interval = minutes

	s.logger.Info("poll cycle scheduled", zap.Int("interval_minutes", minutes))
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), CycleTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.poller.CheckFeeds(ctx)
	if err != nil {
		s.logger.Error("poll cycle failed", zap.Error(err))
		return
	}

	total := 0
	for _, n := range results {
		total += n
	}
	s.logger.Info("poll cycle finished",
		zap.Int("feeds", len(results)),
		zap.Int("new_entries", total),
		zap.Duration("took", time.Since(start)),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
