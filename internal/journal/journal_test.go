package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bidline/internal/auction"
	"bidline/internal/db"
	"bidline/internal/domain"
	"bidline/internal/events"
	"bidline/internal/migrate"
	"bidline/internal/repo"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJournal(t *testing.T) (*Journal, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	j := New(r, events.Writer{}, zap.NewNop(), Options{Retries: 1, Backoff: time.Millisecond})
	j.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		j.Close(ctx)
	})
	return j, r
}

func seedAuction(t *testing.T, r repo.Repo) domain.Auction {
	t.Helper()
	a, err := auction.NewAuction(auction.Listing{
		ID:            "auc-1",
		SellerID:      "seller",
		StartingPrice: decimal.NewFromInt(1000),
		MinIncrement:  decimal.NewFromInt(10),
		EndTime:       now.Add(time.Hour),
	}, now)
	if err != nil {
		t.Fatalf("new auction: %v", err)
	}
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertAuction(ctx, tx, a); err != nil {
		t.Fatalf("insert auction: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return a
}

func flush(t *testing.T, j *Journal) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestJournalPersistsBatchesInOrder(t *testing.T) {
	j, r := newTestJournal(t)
	a := seedAuction(t, r)
	st := auction.NewState(a, nil, nil)

	if _, err := st.Submit("alice", decimal.NewFromInt(1010), now); err != nil {
		t.Fatalf("bid: %v", err)
	}
	j.Append(st.Drain())
	if _, err := st.SetProxy(auction.ProxyRequest{BidderID: "bob", Ceiling: decimal.NewFromInt(1100)}, now); err != nil {
		t.Fatalf("proxy: %v", err)
	}
	j.Append(st.Drain())
	if _, err := st.Submit("carol", decimal.NewFromInt(1050), now); err != nil {
		t.Fatalf("bid: %v", err)
	}
	j.Append(st.Drain())
	flush(t, j)

	ctx := context.Background()
	stored, err := r.GetAuction(ctx, a.ID)
	if err != nil {
		t.Fatalf("get auction: %v", err)
	}
	if stored.CurrentPrice.String() != st.Auction.CurrentPrice.String() || stored.WinnerID != "bob" {
		t.Fatalf("stored auction = %s/%s, want %s/bob", stored.CurrentPrice, stored.WinnerID, st.Auction.CurrentPrice)
	}
	bids, err := r.ListBids(ctx, a.ID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != len(st.Ledger) {
		t.Fatalf("stored %d bids, want %d", len(bids), len(st.Ledger))
	}
	winners := 0
	for i, b := range bids {
		if b.Seq != int64(i+1) {
			t.Fatalf("bid %d has seq %d", i, b.Seq)
		}
		if b.Winning {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected one winning bid, got %d", winners)
	}
	agents, err := r.ListProxyAgents(ctx, a.ID)
	if err != nil || len(agents) != 1 || agents[0].BidsPlaced != 1 {
		t.Fatalf("agents = %+v, %v", agents, err)
	}
	evts, err := r.EventsAfter(ctx, 100, 0, a.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) == 0 || evts[0].Type != auction.EventBidAccepted {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestJournalDropsBatchAfterRetries(t *testing.T) {
	j, r := newTestJournal(t)
	orphan := auction.Changes{
		Bids: []domain.Bid{{
			ID:          "b-1",
			AuctionID:   "missing",
			BidderID:    "alice",
			Amount:      decimal.NewFromInt(5),
			Origin:      domain.OriginHuman,
			Outcome:     domain.OutcomeAccepted,
			Seq:         1,
			SubmittedAt: now,
		}},
	}
	j.Append(orphan)
	flush(t, j)
	if got := j.Failures(); got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
	var n int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM bids`).Scan(&n); err != nil && err != sql.ErrNoRows {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("orphan bid was written")
	}
}

func TestJournalIgnoresEmptyBatches(t *testing.T) {
	j, _ := newTestJournal(t)
	j.Append(auction.Changes{})
	flush(t, j)
	if j.Failures() != 0 {
		t.Fatalf("unexpected failures")
	}
}
