package worker

import (
	"context"
	"fmt"
	"time"

	"medprice-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a scheduled job. Tasks guard themselves against overlapping runs.
type Task func(ctx context.Context)

// Scheduler runs tasks on cron expressions
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewScheduler creates a scheduler using the standard five-field cron syntax in loc
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := util.ComponentLogger("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// OnSchedule registers task under name to run on expr
func (s *Scheduler) OnSchedule(name, expr string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		s.logger.Debug("Running scheduled task", zap.String("task", name))
		task(s.ctx)
		s.logger.Debug("Scheduled task finished",
			zap.String("task", name),
			zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", expr, name, err)
	}
	s.logger.Info("Task scheduled", zap.String("task", name), zap.String("schedule", expr))
	return nil
}

// RunNow starts task in the background outside its schedule
func (s *Scheduler) RunNow(name string, task Task) {
	go func() {
		s.logger.Info("Running task on startup", zap.String("task", name))
		task(s.ctx)
	}()
}

// Start begins firing scheduled tasks
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return, or for ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for scheduled tasks")
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
