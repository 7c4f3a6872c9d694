package storage

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/example/captcha-relay/internal/logger"
)

const DefaultMaintenanceSchedule = "@every 2m"

// Janitor runs a Maintainer on a cron schedule.
type Janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules store maintenance. It returns nil when the store has
// nothing to maintain.
func StartJanitor(store Store, schedule string, hub *sentry.Hub) (*Janitor, error) {
	m, ok := store.(Maintainer)
	if !ok {
		return nil, nil
	}
	if schedule == "" {
		schedule = DefaultMaintenanceSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.Maintain(ctx); err != nil {
			logger.LogAndCapture(hub, err, "Store maintenance failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.WithField("schedule", schedule).Debug("store janitor started")
	return &Janitor{cron: c}, nil
}

// Stop waits for a running job to finish.
func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	<-j.cron.Stop().Done()
}
