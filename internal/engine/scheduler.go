package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bidline/internal/auction"
	"bidline/internal/domain"
)

const schedulerActor = "scheduler"

// Scheduler opens auctions whose start time has come and closes those past
// their end time. All transitions go through the auction's slot.
type Scheduler struct {
	Engine    Engine
	Interval  time.Duration
	BatchSize int
	Log       *zap.Logger
}

func NewScheduler(e Engine) *Scheduler {
	s := &Scheduler{Engine: e, Log: e.logger().Named("scheduler")}
	if e.Config != nil {
		s.Interval = e.Config.Scheduler.SweepInterval.Std()
		s.BatchSize = e.Config.Scheduler.BatchSize
	}
	if s.Interval <= 0 {
		s.Interval = time.Second
	}
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if _, _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.Log.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass and reports how many auctions it started and ended.
// A failure on one auction is logged and does not stop the pass.
func (s *Scheduler) Sweep(ctx context.Context) (started, ended int, err error) {
	e := s.Engine
	due, err := e.Repo.DueAuctions(ctx, e.now(), s.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range due {
		if ctx.Err() != nil {
			return started, ended, ctx.Err()
		}
		err := e.withState(ctx, d.ID, func(st *auction.State) error {
			now := e.now()
			if st.Auction.Status == domain.StatusScheduled && !now.Before(st.Auction.StartTime) {
				if err := st.Start(schedulerActor, now); err != nil {
					return err
				}
				started++
				if st.Auction.Status == domain.StatusEnded {
					ended++
					return nil
				}
			}
			if st.Expire(now) {
				ended++
			}
			return nil
		})
		if err != nil {
			s.Log.Warn("transition failed", zap.String("auction_id", d.ID), zap.Error(err))
		}
	}
	if started > 0 || ended > 0 {
		s.Log.Info("sweep", zap.Int("started", started), zap.Int("ended", ended))
	}
	return started, ended, nil
}
