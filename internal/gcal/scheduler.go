package gcal

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic sync and channel renewal in the background.
type Scheduler struct {
	cron *cron.Cron
	svc  *Service
}

func NewScheduler(svc *Service, intervalMins int) (*Scheduler, error) {
	if intervalMins <= 0 {
		intervalMins = 15
	}

	c := cron.New()
	ctx := context.Background()

	if _, err := c.AddFunc(fmt.Sprintf("@every %dm", intervalMins), func() {
		svc.SyncAll(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule sync: %w", err)
	}
	if _, err := c.AddFunc("@every 6h", func() {
		svc.RenewExpiringChannels(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule channel renewal: %w", err)
	}

	return &Scheduler{cron: c, svc: svc}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("gcal: background sync scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
