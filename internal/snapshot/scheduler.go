package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

// Job is a unit of scheduled work
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. A run is skipped while the
// previous run of the same job is still going.
type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger

	mu      sync.RWMutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler
func NewScheduler(logger logging.Logger) *Scheduler {
	logger = logging.OrGlobal(logger).WithFields(logging.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers job under name. schedule is a standard five field cron
// expression or a descriptor such as "@every 5m".
func (s *Scheduler) Add(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return errors.ConfigError(fmt.Sprintf("job %s already scheduled", name))
	}

	id, err := s.cron.AddFunc(schedule, func() { s.run(name, job) })
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid schedule %q for job %s: %v", schedule, name, err))
	}
	s.entries[name] = id
	return nil
}

// Next returns the next run of the named job, zero when it is unknown or the
// scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", logging.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	if err := job(s.ctx); err != nil {
		s.logger.Error("Scheduled job failed", err, logging.String("job", name))
		return
	}
	s.logger.Debug("Scheduled job finished",
		logging.String("job", name),
		logging.Duration("duration", time.Since(start)),
	)
}

// cronLogger adapts Logger to cron's logging interface
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, err, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
