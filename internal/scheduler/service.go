package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"docqueue/internal/queue"
)

// Service purges acknowledged messages from every managed queue on a cron schedule.
type Service struct {
	queues  *queue.Manager
	cron    *cron.Cron
	spec    string
	timeout time.Duration
}

func NewService(queues *queue.Manager, spec string, timeout time.Duration) (*Service, error) {
	s := &Service{
		queues:  queues,
		cron:    cron.New(),
		spec:    spec,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Start() {
	evt := log.Info().Str("schedule", s.spec)
	if next, err := NextRunTime(s.spec, time.Now()); err == nil {
		evt = evt.Time("next_run", next)
	}
	evt.Msg("purge scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.PurgeAll(ctx)
}

// PurgeAll purges every queue opened so far and logs its stats afterwards.
// Failures are logged per queue and do not stop the sweep.
func (s *Service) PurgeAll(ctx context.Context) {
	for _, name := range s.queues.List() {
		q, err := s.queues.Get(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("failed to open queue")
			continue
		}
		removed, err := q.Purge(ctx)
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("failed to purge queue")
			continue
		}
		stats, err := q.Stats(ctx)
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("failed to read queue stats")
			continue
		}
		log.Info().
			Str("queue", name).
			Int64("removed", removed).
			Int64("size", stats.Size).
			Int64("in_flight", stats.InFlight).
			Int64("delayed", stats.Delayed).
			Int64("total", stats.Total).
			Msg("queue purged")
	}
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
