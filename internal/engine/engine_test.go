package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bidline/internal/auction"
	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/migrate"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	DB     *sql.DB
	Ctx    context.Context
	Clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{DB: conn, Ctx: context.Background(), Clock: t0}
	env.Engine = env.open()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.Engine.Close(ctx)
		conn.Close()
	})
	return env
}

func (env *testEnv) open() engine.Engine {
	eng := engine.New(env.DB, config.Default(), zap.NewNop())
	eng.Now = func() time.Time { return env.Clock }
	return eng
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func noExtend() *bool {
	off := false
	return &off
}

func (env *testEnv) createAuction(t *testing.T, id string) domain.Auction {
	t.Helper()
	inc := d("10")
	a, err := env.Engine.CreateAuction(env.Ctx, engine.AuctionCreateOptions{
		ID:            id,
		SellerID:      "seller",
		Title:         "Camera",
		StartingPrice: d("1000"),
		MinIncrement:  &inc,
		EndTime:       t0.Add(24 * time.Hour),
		AutoExtend:    noExtend(),
	})
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return a
}

func (env *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
	defer cancel()
	if err := env.Engine.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestCreateAuctionAppliesConfigDefaults(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAuction(env.Ctx, engine.AuctionCreateOptions{
		SellerID:      "seller",
		StartingPrice: d("50"),
		EndTime:       t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" || a.Status != domain.StatusActive {
		t.Fatalf("unexpected auction %+v", a)
	}
	if a.MinIncrement.String() != "1" || !a.AutoExtend || a.ExtensionWindow != 5*time.Minute || a.MaxExtensions != 10 {
		t.Fatalf("config defaults not applied: %+v", a)
	}
	stored, err := env.Engine.Repo.GetAuction(env.Ctx, a.ID)
	if err != nil || stored.StartingPrice.String() != "50" {
		t.Fatalf("auction not stored synchronously: %+v %v", stored, err)
	}
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 10, 0, a.ID)
	if err != nil || len(evts) != 1 || evts[0].Type != auction.EventAuctionCreated {
		t.Fatalf("events = %+v, %v", evts, err)
	}

	if _, err := env.Engine.CreateAuction(env.Ctx, engine.AuctionCreateOptions{
		ID: a.ID, SellerID: "seller", StartingPrice: d("50"), EndTime: t0.Add(time.Hour),
	}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	zero := d("0")
	_, err = env.Engine.CreateAuction(env.Ctx, engine.AuctionCreateOptions{
		SellerID: "seller", StartingPrice: d("50"), MinIncrement: &zero, EndTime: t0.Add(time.Hour),
	})
	if !errors.Is(err, auction.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestSubmitBidRecordsAcceptedAndRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAuction(t, "auc-1")

	res, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: d("1010")})
	if err != nil || !res.Accepted {
		t.Fatalf("first bid: %+v %v", res, err)
	}
	if res.CurrentPrice.String() != "1010" || res.MinimumNextBid.String() != "1020" || res.WinnerID != "alice" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "bob", Amount: d("1015")})
	if !errors.Is(err, auction.ErrBidTooLow) {
		t.Fatalf("expected bid too low, got %v", err)
	}
	var ae *auction.Error
	if !errors.As(err, &ae) || ae.Minimum == nil || ae.Minimum.String() != "1020" {
		t.Fatalf("minimum not reported: %v", err)
	}
	if res.Accepted || res.Reason != auction.CodeBidTooLow || res.CurrentPrice.String() != "1010" {
		t.Fatalf("unexpected rejected result %+v", res)
	}

	_, err = env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "seller", Amount: d("2000")})
	if !errors.Is(err, auction.ErrSelfBid) {
		t.Fatalf("expected self bid, got %v", err)
	}

	snap, err := env.Engine.GetAuctionSnapshot(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalBids != 1 || snap.UniqueBidders != 1 {
		t.Fatalf("counters = %d/%d", snap.TotalBids, snap.UniqueBidders)
	}

	env.flush(t)
	bids, err := env.Engine.Repo.ListBids(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 3 {
		t.Fatalf("stored %d bids, want 3", len(bids))
	}
	if bids[1].Outcome != domain.OutcomeRejected || bids[1].RejectReason != string(auction.CodeBidTooLow) {
		t.Fatalf("rejected bid not recorded: %+v", bids[1])
	}
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: "missing", BidderID: "alice", Amount: d("10")})
	if !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if res.Reason != auction.CodeAuctionNotFound {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestConcurrentEqualBidsOneWins(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAuction(t, "auc-race")
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: d("1050")}); err != nil {
		t.Fatalf("opening bid: %v", err)
	}

	bidders := []string{"bob", "carol"}
	results := make([]engine.BidResult, len(bidders))
	errs := make([]error, len(bidders))
	var g errgroup.Group
	for i, bidder := range bidders {
		i, bidder := i, bidder
		g.Go(func() error {
			results[i], errs[i] = env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: bidder, Amount: d("1100")})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	accepted, tooLow := 0, 0
	for i := range bidders {
		switch {
		case errs[i] == nil && results[i].Accepted:
			accepted++
		case errors.Is(errs[i], auction.ErrBidTooLow):
			tooLow++
			var ae *auction.Error
			if !errors.As(errs[i], &ae) || ae.Minimum.String() != "1110" {
				t.Fatalf("loser saw minimum %v", errs[i])
			}
		default:
			t.Fatalf("unexpected outcome %+v %v", results[i], errs[i])
		}
	}
	if accepted != 1 || tooLow != 1 {
		t.Fatalf("accepted=%d tooLow=%d", accepted, tooLow)
	}

	env.flush(t)
	bids, err := env.Engine.Repo.ListBids(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	winning := 0
	for i, b := range bids {
		if b.Seq != int64(i+1) {
			t.Fatalf("seq gap at %d: %d", i, b.Seq)
		}
		if b.Winning {
			winning++
		}
	}
	if winning != 1 {
		t.Fatalf("winning bids = %d", winning)
	}
}

func TestProxyAgentAnswersThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAuction(t, "auc-proxy")

	pr, err := env.Engine.SetProxyAgent(env.Ctx, a.ID, auction.ProxyRequest{BidderID: "alice", Ceiling: d("1500")})
	if err != nil || !pr.Accepted || pr.Agent.Strategy != domain.StrategyConservative {
		t.Fatalf("set proxy: %+v %v", pr, err)
	}
	pr, err = env.Engine.SetProxyAgent(env.Ctx, a.ID, auction.ProxyRequest{BidderID: "alice", Ceiling: d("1600")})
	if !errors.Is(err, auction.ErrDuplicateProxyAgent) || pr.Accepted || pr.Reason != auction.CodeDuplicateProxyAgent {
		t.Fatalf("expected duplicate agent, got %+v %v", pr, err)
	}

	res, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "bob", Amount: d("1100")})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if len(res.CascadeBids) != 1 || res.WinnerID != "alice" || res.CurrentPrice.String() != "1110" {
		t.Fatalf("unexpected cascade %+v", res)
	}

	ceiling := d("1200")
	if _, err := env.Engine.UpdateProxyAgent(env.Ctx, a.ID, auction.ProxyUpdate{BidderID: "alice", Ceiling: &ceiling}); err != nil {
		t.Fatalf("update proxy: %v", err)
	}
	if _, err := env.Engine.CancelProxyAgent(env.Ctx, a.ID, "alice"); err != nil {
		t.Fatalf("cancel proxy: %v", err)
	}
	if _, err := env.Engine.CancelProxyAgent(env.Ctx, a.ID, "alice"); !errors.Is(err, auction.ErrProxyAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	agents, err := env.Engine.ProxyAgents(env.Ctx, a.ID)
	if err != nil || len(agents) != 1 || agents[0].Active || agents[0].BidsPlaced != 1 {
		t.Fatalf("agents = %+v %v", agents, err)
	}
}

func TestRestartRecoversState(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAuction(t, "auc-restart")
	if _, err := env.Engine.SetProxyAgent(env.Ctx, a.ID, auction.ProxyRequest{BidderID: "alice", Ceiling: d("1300")}); err != nil {
		t.Fatalf("set proxy: %v", err)
	}
	for _, amount := range []string{"1010", "1100"} {
		if _, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "bob", Amount: d(amount)}); err != nil {
			t.Fatalf("bid %s: %v", amount, err)
		}
	}
	before, err := env.Engine.GetAuctionSnapshot(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	ledger, _ := env.Engine.Ledger(env.Ctx, a.ID)

	ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
	defer cancel()
	if err := env.Engine.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	env.Engine = env.open()

	after, err := env.Engine.GetAuctionSnapshot(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("snapshot after restart: %v", err)
	}
	if after.CurrentPrice.String() != before.CurrentPrice.String() || after.WinnerID != before.WinnerID || after.TotalBids != before.TotalBids {
		t.Fatalf("state lost: before %+v after %+v", before, after)
	}
	won, err := env.Engine.Repo.WinningBid(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("winning bid: %v", err)
	}
	if won.BidderID != before.WinnerID || !won.Amount.Equal(before.CurrentPrice) || won.Origin != domain.OriginProxy {
		t.Fatalf("persisted winner %+v does not match %+v", won, before)
	}

	res, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "bob", Amount: d("1300")})
	if err != nil {
		t.Fatalf("bid after restart: %v", err)
	}
	if res.Bid.Seq != ledger[len(ledger)-1].Seq+1 {
		t.Fatalf("seq did not continue: got %d after %d", res.Bid.Seq, ledger[len(ledger)-1].Seq)
	}
	if res.WinnerID != "bob" {
		t.Fatalf("winner = %s", res.WinnerID)
	}
}

func TestSchedulerStartsAndExpires(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAuction(env.Ctx, engine.AuctionCreateOptions{
		ID:            "auc-sched",
		SellerID:      "seller",
		StartingPrice: d("100"),
		StartTime:     t0.Add(time.Hour),
		EndTime:       t0.Add(2 * time.Hour),
		AutoExtend:    noExtend(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != domain.StatusScheduled {
		t.Fatalf("status = %s", a.Status)
	}
	sched := engine.NewScheduler(env.Engine)

	if started, ended, err := sched.Sweep(env.Ctx); err != nil || started != 0 || ended != 0 {
		t.Fatalf("early sweep: %d %d %v", started, ended, err)
	}

	env.Clock = t0.Add(time.Hour)
	if started, _, err := sched.Sweep(env.Ctx); err != nil || started != 1 {
		t.Fatalf("start sweep: %d %v", started, err)
	}
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: d("120")}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	env.Clock = t0.Add(2 * time.Hour)
	if _, ended, err := sched.Sweep(env.Ctx); err != nil || ended != 1 {
		t.Fatalf("end sweep: %d %v", ended, err)
	}
	snap, err := env.Engine.GetAuctionSnapshot(env.Ctx, a.ID)
	if err != nil || snap.Status != domain.StatusEnded || snap.EndReason != domain.EndExpired {
		t.Fatalf("snapshot = %+v %v", snap, err)
	}

	st, err := env.Engine.SettleAuction(env.Ctx, a.ID, "payments")
	if err != nil || st.WinnerID != "alice" || st.Amount.String() != "120" {
		t.Fatalf("settle = %+v %v", st, err)
	}
	env.flush(t)
	stored, err := env.Engine.Repo.GetAuction(env.Ctx, a.ID)
	if err != nil || stored.Status != domain.StatusSettled {
		t.Fatalf("stored = %+v %v", stored, err)
	}
}

func TestCancelRequiresSellerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAuction(t, "auc-cancel")

	if _, err := env.Engine.CancelAuction(env.Ctx, a.ID, "mallory", false); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	snap, err := env.Engine.CancelAuction(env.Ctx, a.ID, "seller", false)
	if err != nil || snap.EndReason != domain.EndCancelled {
		t.Fatalf("cancel: %+v %v", snap, err)
	}
	if _, err := env.Engine.CancelAuction(env.Ctx, a.ID, "ops", true); !errors.Is(err, auction.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: d("1010")}); !errors.Is(err, auction.ErrAuctionNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}
	closed, err := env.Engine.ExpireAuction(env.Ctx, a.ID)
	if err != nil || closed {
		t.Fatalf("expire on cancelled auction: %v %v", closed, err)
	}
}

func TestSoftCancelBidKeepsPrice(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAuction(t, "auc-soft")
	res, err := env.Engine.SubmitBid(env.Ctx, engine.BidRequest{AuctionID: a.ID, BidderID: "alice", Amount: d("1010")})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	bid, err := env.Engine.SoftCancelBid(env.Ctx, a.ID, res.Bid.ID, "admin")
	if err != nil || !bid.Cancelled {
		t.Fatalf("soft cancel: %+v %v", bid, err)
	}
	snap, _ := env.Engine.GetAuctionSnapshot(env.Ctx, a.ID)
	if snap.CurrentPrice.String() != "1010" || snap.WinnerID != "alice" {
		t.Fatalf("price changed: %+v", snap)
	}
	env.flush(t)
	stored, err := env.Engine.Repo.ListBids(env.Ctx, a.ID)
	if err != nil || len(stored) != 1 || !stored[0].Cancelled {
		t.Fatalf("stored = %+v %v", stored, err)
	}
}
