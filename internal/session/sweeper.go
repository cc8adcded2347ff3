package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically deletes expired sessions so idle storage is reclaimed
// even when no read ever touches the expired rows. It shares no state with
// the request path beyond the sessions table itself.
type Sweeper struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
	log      *logrus.Entry
}

func NewSweeper(manager *Manager, schedule string, log *logrus.Entry) *Sweeper {
	if schedule == "" {
		schedule = "*/15 * * * *"
	}
	return &Sweeper{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		log:      log.WithField("component", "session-sweeper"),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("session sweeper started")
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("session sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.manager.DeleteExpired(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("deleted", n).Debug("swept expired sessions")
	}
}
