package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"bidline/internal/auction"
	"bidline/internal/repo"
)

// slot serialises all work on one auction. state is set once and, after
// that, only read or mutated while the semaphore is held.
type slot struct {
	sem   *semaphore.Weighted
	state atomic.Pointer[auction.State]
}

func newSlot(st *auction.State) *slot {
	s := &slot{sem: semaphore.NewWeighted(1)}
	if st != nil {
		s.state.Store(st)
	}
	return s
}

type slots = xsync.MapOf[string, *slot]

func newSlots() *slots {
	return xsync.NewMapOf[string, *slot]()
}

func (e Engine) lockTimeout() time.Duration {
	if e.Config != nil && e.Config.Bidding.LockTimeout > 0 {
		return e.Config.Bidding.LockTimeout.Std()
	}
	return 2 * time.Second
}

// slotFor returns the registry entry for an auction, checking the store before
// creating one so unknown ids never get a slot.
func (e Engine) slotFor(ctx context.Context, auctionID string) (*slot, error) {
	if s, ok := e.slots.Load(auctionID); ok {
		return s, nil
	}
	if _, err := e.Repo.GetAuction(ctx, auctionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, auction.NotFound(auctionID)
		}
		return nil, fmt.Errorf("lookup auction %s: %w", auctionID, err)
	}
	s, _ := e.slots.LoadOrCompute(auctionID, func() *slot { return newSlot(nil) })
	return s, nil
}

// acquire takes the auction's slot, waiting at most the configured lock
// timeout. Losing the wait is reported as a retryable conflict. A slot with
// no state yet is loaded from the store before the wait, so the critical
// section never does I/O. The first copy installed wins.
func (e Engine) acquire(ctx context.Context, auctionID string) (*slot, error) {
	s, err := e.slotFor(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	var loaded *auction.State
	if s.state.Load() == nil {
		if loaded, err = e.load(ctx, auctionID); err != nil {
			return nil, err
		}
	}
	wctx, cancel := context.WithTimeout(ctx, e.lockTimeout())
	defer cancel()
	if err := s.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger().Warn("slot wait timed out", zap.String("auction_id", auctionID))
		return nil, auction.Conflict(auctionID)
	}
	if loaded != nil {
		s.state.CompareAndSwap(nil, loaded)
	}
	return s, nil
}

// load rebuilds an auction's state from the store.
func (e Engine) load(ctx context.Context, auctionID string) (*auction.State, error) {
	a, err := e.Repo.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, auction.NotFound(auctionID)
		}
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}
	agents, err := e.Repo.ListProxyAgents(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load proxy agents %s: %w", auctionID, err)
	}
	bids, err := e.Repo.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load bids %s: %w", auctionID, err)
	}
	st := auction.NewState(a, agents, bids)
	st.NewID = e.newID
	e.logger().Debug("auction state loaded", zap.String("auction_id", auctionID), zap.Int("bids", len(bids)), zap.Int("agents", len(agents)))
	return st, nil
}

// withState runs fn as the sole holder of the auction and queues whatever fn
// changed for the journal before releasing. Changes are queued even when fn
// fails, since rejected bids are still recorded.
func (e Engine) withState(ctx context.Context, auctionID string, fn func(st *auction.State) error) error {
	s, err := e.acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	defer s.sem.Release(1)
	st := s.state.Load()
	err = fn(st)
	e.Journal.Append(st.Drain())
	return err
}
