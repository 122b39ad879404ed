// Package retention keeps the trash countdown honest: on a cron schedule it
// refetches the trashed partition, closing views of conversations the server
// purged, and prunes expired entries from the snapshot cache.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/blogchat/internal/logger"
)

type Sweeper interface {
	SweepExpired(ctx context.Context) ([]string, error)
}

// Pruner drops expired snapshot rows. Stores with native TTL do not need it.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    string
	sweeper Sweeper
	pruners []Pruner
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

func New(cron string, sweeper Sweeper, pruners ...Pruner) (*Scheduler, error) {
	if cron == "" {
		cron = "0 0 * * *"
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("retention: invalid cron expression %q", cron)
	}
	return &Scheduler{
		cron:    cron,
		sweeper: sweeper,
		pruners: pruners,
		now:     time.Now,
		after:   time.After,
	}, nil
}

// Next is the first tick strictly after from.
func (s *Scheduler) Next(from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, from, false)
}

// RunOnce sweeps the trash and prunes every store.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	defer logger.DeferLogDuration("retention.RunOnce", time.Now())()
	var errs []error
	gone, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if len(gone) > 0 {
		logger.Infof("retention: %d conversation(s) expired", len(gone))
	}
	for _, p := range s.pruners {
		n, err := p.Prune(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			logger.Infof("retention: pruned %d snapshot(s)", n)
		}
	}
	return errors.Join(errs...)
}

// Run blocks until ctx is done, running RunOnce at every cron tick.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Infof("retention: scheduler started, cron %q", s.cron)
	for {
		next, err := s.Next(s.now())
		wait := 30 * time.Second
		if err != nil {
			logger.Errorf("retention: next tick: %v", err)
		} else {
			wait = max(time.Until(next), 0)
		}
		select {
		case <-ctx.Done():
			logger.Info("retention: scheduler stopping")
			return
		case <-s.after(wait):
		}
		if err != nil {
			continue
		}
		if err := s.RunOnce(ctx); err != nil {
			logger.Errorf("retention: run: %v", err)
		}
	}
}
