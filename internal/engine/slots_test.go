package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bidline/internal/auction"
	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/migrate"
)

func TestSlotWaitTimesOutAsConflict(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Bidding.LockTimeout = config.Duration(20 * time.Millisecond)
	e := New(conn, cfg, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Close(ctx)
		conn.Close()
	})
	ctx := context.Background()
	a, err := e.CreateAuction(ctx, AuctionCreateOptions{
		ID:            "auc-busy",
		SellerID:      "seller",
		StartingPrice: decimal.NewFromInt(100),
		EndTime:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	held, err := e.acquire(ctx, a.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = e.SubmitBid(ctx, BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: decimal.NewFromInt(150)})
	if !auction.IsRetryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
	held.sem.Release(1)

	res, err := e.SubmitBid(ctx, BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: decimal.NewFromInt(150)})
	if err != nil || !res.Accepted {
		t.Fatalf("bid after release: %+v %v", res, err)
	}
	if res.Bid.Seq != 1 {
		t.Fatalf("timed out bid should not be recorded, seq = %d", res.Bid.Seq)
	}
}

func TestSlotForUnknownAuction(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, nil, nil)
	defer e.Close(context.Background())
	if _, err := e.slotFor(context.Background(), "nope"); auction.CodeOf(err) != auction.CodeAuctionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if e.slots.Size() != 0 {
		t.Fatalf("slot created for unknown auction")
	}
}

func TestSlotStateLoadsOutsideTheWait(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	first := New(conn, nil, nil)
	a, err := first.CreateAuction(ctx, AuctionCreateOptions{
		ID:            "auc-reload",
		SellerID:      "seller",
		StartingPrice: decimal.NewFromInt(100),
		EndTime:       time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := first.SubmitBid(ctx, BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: decimal.NewFromInt(150)}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg := config.Default()
	cfg.Bidding.LockTimeout = config.Duration(5 * time.Second)
	e := New(conn, cfg, zap.NewNop())
	defer e.Close(ctx)

	s, err := e.acquire(ctx, a.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	st := s.state.Load()
	if st == nil || st.Auction.CurrentPrice.String() != "150" || len(st.Ledger) != 1 {
		t.Fatalf("state not restored: %+v", st)
	}
	s.sem.Release(1)
	s, err = e.acquire(ctx, a.ID)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if s.state.Load() != st {
		t.Fatalf("state reloaded on second acquire")
	}
	s.sem.Release(1)

	// A fresh slot whose holder never lets go still surfaces a store failure
	// at once instead of a lock timeout.
	e.slots.Delete(a.ID)
	fresh, err := e.slotFor(ctx, a.ID)
	if err != nil {
		t.Fatalf("slot: %v", err)
	}
	if err := fresh.sem.Acquire(ctx, 1); err != nil {
		t.Fatalf("hold: %v", err)
	}
	defer fresh.sem.Release(1)
	conn.Close()

	started := time.Now()
	_, err = e.acquire(ctx, a.ID)
	if err == nil || auction.IsRetryable(err) {
		t.Fatalf("expected load error, got %v", err)
	}
	if waited := time.Since(started); waited >= time.Second {
		t.Fatalf("load waited on the slot for %s", waited)
	}
	if fresh.state.Load() != nil {
		t.Fatalf("failed load installed state")
	}
}
