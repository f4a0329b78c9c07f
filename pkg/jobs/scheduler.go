package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers recurring jobs on the queue.
type Scheduler struct {
	cron   *cron.Cron
	queue  *Queue
	logger *zap.Logger
}

// NewScheduler creates a scheduler feeding queue.
func NewScheduler(queue *Queue, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		queue:  queue,
		logger: logger,
	}
}

// Every runs a job of kind at the given interval. A trigger that finds the
// previous run still queued or running is absorbed by it.
func (s *Scheduler) Every(interval time.Duration, kind string, payload json.RawMessage) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("invalid interval %s for job kind %q", interval, kind)
	}
	id, err := s.cron.AddFunc("@every "+interval.String(), func() {
		h, err := s.queue.RunOnce(context.Background(), kind, payload)
		if err != nil {
			s.logger.Error("Failed to trigger scheduled job", zap.String("kind", kind), zap.Error(err))
			return
		}
		s.logger.Debug("Scheduled job triggered", zap.String("kind", kind), zap.String("job_id", h.ID))
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", kind, err)
	}
	s.logger.Info("Recurring job registered", zap.String("kind", kind), zap.Duration("interval", interval))
	return id, nil
}

// Remove unregisters a recurring job.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for in-flight triggers.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
