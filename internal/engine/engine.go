package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bidline/internal/auction"
	"bidline/internal/config"
	"bidline/internal/domain"
	"bidline/internal/events"
	"bidline/internal/journal"
	"bidline/internal/repo"
)

// ErrForbidden is returned when the actor may not perform an operation.
var ErrForbidden = errors.New("forbidden")

// Engine coordinates every auction operation. Each auction is owned by one
// slot at a time; state lives in memory and the journal persists it behind
// the caller.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Journal *journal.Journal
	Config  *config.Config
	Log     *zap.Logger
	Now     func() time.Time
	NewID   func() string

	slots *slots
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := repo.Repo{DB: db}
	w := events.Writer{}
	j := journal.New(r, w, log, journal.Options{
		Retries:      cfg.Journal.Retries,
		Backoff:      cfg.Journal.Backoff.Std(),
		WriteTimeout: cfg.Journal.WriteTimeout.Std(),
	})
	j.Start()
	return Engine{
		DB:      db,
		Repo:    r,
		Events:  w,
		Journal: j,
		Config:  cfg,
		Log:     log.Named("engine"),
		Now:     time.Now,
		slots:   newSlots(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// Flush waits until every queued change has reached the store.
func (e Engine) Flush(ctx context.Context) error {
	return e.Journal.Flush(ctx)
}

// Close drains the journal. The engine must not be used afterwards.
func (e Engine) Close(ctx context.Context) error {
	return e.Journal.Close(ctx)
}

// AuctionCreateOptions are parameters for listing an auction. Nil optional
// fields fall back to the configured defaults.
type AuctionCreateOptions struct {
	ID              string
	SellerID        string
	Title           string
	StartingPrice   decimal.Decimal
	ReservePrice    *decimal.Decimal
	BuyNowPrice     *decimal.Decimal
	MinIncrement    *decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	AutoExtend      *bool
	ExtensionWindow time.Duration
	ExtensionLength time.Duration
	MaxExtensions   *int
	ActorID         string
}

func (e Engine) listing(opts AuctionCreateOptions) auction.Listing {
	l := auction.Listing{
		ID:              strings.TrimSpace(opts.ID),
		SellerID:        strings.TrimSpace(opts.SellerID),
		Title:           opts.Title,
		StartingPrice:   opts.StartingPrice,
		ReservePrice:    opts.ReservePrice,
		BuyNowPrice:     opts.BuyNowPrice,
		StartTime:       opts.StartTime,
		EndTime:         opts.EndTime,
		ExtensionWindow: opts.ExtensionWindow,
		ExtensionLength: opts.ExtensionLength,
	}
	if l.ID == "" {
		l.ID = e.newID()
	}
	if opts.MinIncrement != nil {
		l.MinIncrement = *opts.MinIncrement
	} else {
		l.MinIncrement = e.Config.Increment()
	}
	ext := e.Config.Extension
	l.AutoExtend = ext.Enabled
	if opts.AutoExtend != nil {
		l.AutoExtend = *opts.AutoExtend
	}
	if l.ExtensionWindow == 0 {
		l.ExtensionWindow = ext.Window.Std()
	}
	if l.ExtensionLength == 0 {
		l.ExtensionLength = ext.Length.Std()
	}
	l.MaxExtensions = ext.MaxExtensions
	if opts.MaxExtensions != nil {
		l.MaxExtensions = *opts.MaxExtensions
	}
	return l
}

// CreateAuction validates and stores a new auction. Unlike bids, creation is
// written synchronously so the id is queryable as soon as this returns.
func (e Engine) CreateAuction(ctx context.Context, opts AuctionCreateOptions) (domain.Auction, error) {
	if e.Config == nil {
		return domain.Auction{}, errors.New("config not loaded")
	}
	now := e.now()
	a, err := auction.NewAuction(e.listing(opts), now)
	if err != nil {
		return domain.Auction{}, err
	}
	if _, err := e.Repo.GetAuction(ctx, a.ID); err == nil {
		return domain.Auction{}, fmt.Errorf("auction %s already exists", a.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Auction{}, err
	}
	actor := opts.ActorID
	if actor == "" {
		actor = a.SellerID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Auction{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAuction(ctx, tx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("insert auction: %w", err)
	}
	payload := events.EventPayload{
		"seller_id":      a.SellerID,
		"status":         string(a.Status),
		"starting_price": a.StartingPrice.String(),
		"min_increment":  a.MinIncrement.String(),
		"start_time":     a.StartTime.UTC().Format(time.RFC3339Nano),
		"end_time":       a.EndTime.UTC().Format(time.RFC3339Nano),
	}
	if a.BuyNowPrice != nil {
		payload["buy_now_price"] = a.BuyNowPrice.String()
	}
	if err := e.Events.AppendEvent(ctx, tx, domain.Event{
		TS:         now,
		Type:       auction.EventAuctionCreated,
		AuctionID:  a.ID,
		EntityKind: "auction",
		EntityID:   a.ID,
		ActorID:    actor,
		Payload:    payload,
	}); err != nil {
		return domain.Auction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Auction{}, err
	}
	e.slots.LoadOrCompute(a.ID, func() *slot {
		st := auction.NewState(a, nil, nil)
		st.NewID = e.newID
		return newSlot(st)
	})
	e.logger().Info("auction created", zap.String("auction_id", a.ID), zap.String("seller_id", a.SellerID), zap.String("status", string(a.Status)))
	return a, nil
}

// ListAuctions reads the store. Changes still queued in the journal are not
// visible here; use GetAuctionSnapshot for the live view.
func (e Engine) ListAuctions(ctx context.Context, status string, limit int) ([]domain.Auction, error) {
	return e.Repo.ListAuctions(ctx, status, limit)
}

// StartAuction opens a scheduled auction.
func (e Engine) StartAuction(ctx context.Context, auctionID, actorID string) (auction.Snapshot, error) {
	var snap auction.Snapshot
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		if err := st.Start(actorID, e.now()); err != nil {
			return err
		}
		snap = st.Snapshot()
		return nil
	})
	if err == nil {
		e.logger().Info("auction started", zap.String("auction_id", auctionID), zap.String("status", string(snap.Status)))
	}
	return snap, err
}

// CancelAuction ends an auction early. Only the seller or an admin may cancel.
func (e Engine) CancelAuction(ctx context.Context, auctionID, actorID string, admin bool) (auction.Snapshot, error) {
	var snap auction.Snapshot
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		if !admin && st.Auction.SellerID != actorID {
			return fmt.Errorf("%w: only the seller or an admin can cancel auction %s", ErrForbidden, auctionID)
		}
		if err := st.Cancel(actorID, e.now()); err != nil {
			return err
		}
		snap = st.Snapshot()
		return nil
	})
	if err == nil {
		e.logger().Info("auction cancelled", zap.String("auction_id", auctionID), zap.String("actor_id", actorID))
	}
	return snap, err
}

// ExpireAuction closes the auction if its end time has passed and reports
// whether this call closed it.
func (e Engine) ExpireAuction(ctx context.Context, auctionID string) (bool, error) {
	var closed bool
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		closed = st.Expire(e.now())
		return nil
	})
	if closed {
		e.logger().Info("auction expired", zap.String("auction_id", auctionID))
	}
	return closed, err
}

// SettleAuction hands an ended auction off to payment.
func (e Engine) SettleAuction(ctx context.Context, auctionID, actorID string) (auction.Settlement, error) {
	var out auction.Settlement
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		var err error
		out, err = st.Settle(actorID, e.now())
		return err
	})
	if err == nil {
		e.logger().Info("auction settled",
			zap.String("auction_id", auctionID),
			zap.String("winner_id", out.WinnerID),
			zap.String("amount", out.Amount.String()),
			zap.Bool("reserve_met", out.ReserveMet))
	}
	return out, err
}

// BidRequest is a human bid.
type BidRequest struct {
	AuctionID string
	BidderID  string
	Amount    decimal.Decimal
}

// BidResult reports the outcome of a submission. It is filled for rejected
// bids too, so callers can show the live price next to the reason.
type BidResult struct {
	Accepted       bool
	Reason         auction.Code
	Bid            domain.Bid
	CascadeBids    []domain.Bid
	Extended       bool
	CurrentPrice   decimal.Decimal
	MinimumNextBid decimal.Decimal
	WinnerID       string
	EndTime        time.Time
	Status         domain.AuctionStatus
}

func bidResult(res auction.Result, err error) BidResult {
	snap := res.Snapshot
	return BidResult{
		Accepted:       res.Accepted,
		Reason:         auction.CodeOf(err),
		Bid:            res.Bid,
		CascadeBids:    res.CascadeBids,
		Extended:       res.Extended,
		CurrentPrice:   snap.CurrentPrice,
		MinimumNextBid: snap.MinimumNextBid,
		WinnerID:       snap.WinnerID,
		EndTime:        snap.EndTime,
		Status:         snap.Status,
	}
}

// SubmitBid places a human bid, runs the proxy cascade it provokes and the
// auto-extension check, all under the auction's slot. Rejections come back
// as *auction.Error alongside a populated result.
func (e Engine) SubmitBid(ctx context.Context, req BidRequest) (BidResult, error) {
	bidderID := strings.TrimSpace(req.BidderID)
	if bidderID == "" {
		return BidResult{}, errors.New("bidder id required")
	}
	var out BidResult
	err := e.withState(ctx, req.AuctionID, func(st *auction.State) error {
		res, err := st.Submit(bidderID, req.Amount, e.now())
		out = bidResult(res, err)
		return err
	})
	if err != nil && out.Reason == "" {
		out.Reason = auction.CodeOf(err)
	}
	log := e.logger().With(
		zap.String("auction_id", req.AuctionID),
		zap.String("bidder_id", bidderID),
		zap.String("amount", req.Amount.String()))
	switch {
	case err == nil:
		log.Info("bid accepted",
			zap.Int64("seq", out.Bid.Seq),
			zap.Int("cascade", len(out.CascadeBids)),
			zap.Bool("extended", out.Extended),
			zap.String("price", out.CurrentPrice.String()))
	case out.Reason != "":
		log.Debug("bid rejected", zap.String("reason", string(out.Reason)))
	}
	return out, err
}

// SoftCancelBid flags a bid as cancelled for audit. Price and winner stay.
func (e Engine) SoftCancelBid(ctx context.Context, auctionID, bidID, actorID string) (domain.Bid, error) {
	var out domain.Bid
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		var err error
		out, err = st.SoftCancelBid(bidID, actorID, e.now())
		return err
	})
	if err == nil {
		e.logger().Info("bid cancelled", zap.String("auction_id", auctionID), zap.String("bid_id", bidID), zap.String("actor_id", actorID))
	}
	return out, err
}

// ProxyResult is the outcome of a proxy agent operation. Reason is set when
// the request was refused.
type ProxyResult struct {
	Accepted bool
	Reason   auction.Code
	Agent    domain.ProxyAgent
}

func proxyResult(agent domain.ProxyAgent, err error) ProxyResult {
	return ProxyResult{Accepted: err == nil, Reason: auction.CodeOf(err), Agent: agent}
}

// SetProxyAgent registers a standing proxy for the bidder. It places no bid
// by itself.
func (e Engine) SetProxyAgent(ctx context.Context, auctionID string, req auction.ProxyRequest) (ProxyResult, error) {
	var agent domain.ProxyAgent
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		var err error
		agent, err = st.SetProxy(req, e.now())
		return err
	})
	if err == nil {
		e.logger().Info("proxy agent set",
			zap.String("auction_id", auctionID),
			zap.String("bidder_id", req.BidderID),
			zap.String("ceiling", req.Ceiling.String()),
			zap.String("strategy", string(agent.Strategy)))
	}
	return proxyResult(agent, err), err
}

func (e Engine) UpdateProxyAgent(ctx context.Context, auctionID string, upd auction.ProxyUpdate) (ProxyResult, error) {
	var agent domain.ProxyAgent
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		var err error
		agent, err = st.UpdateProxy(upd, e.now())
		return err
	})
	if err == nil {
		e.logger().Info("proxy agent updated",
			zap.String("auction_id", auctionID),
			zap.String("bidder_id", upd.BidderID),
			zap.String("ceiling", agent.Ceiling.String()),
			zap.Bool("exhausted", agent.Exhausted))
	}
	return proxyResult(agent, err), err
}

func (e Engine) CancelProxyAgent(ctx context.Context, auctionID, bidderID string) (ProxyResult, error) {
	var agent domain.ProxyAgent
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		var err error
		agent, err = st.CancelProxy(bidderID, e.now())
		return err
	})
	if err == nil {
		e.logger().Info("proxy agent cancelled", zap.String("auction_id", auctionID), zap.String("bidder_id", bidderID))
	}
	return proxyResult(agent, err), err
}

// GetAuctionSnapshot returns the live view of an auction.
func (e Engine) GetAuctionSnapshot(ctx context.Context, auctionID string) (auction.Snapshot, error) {
	var snap auction.Snapshot
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		snap = st.Snapshot()
		return nil
	})
	return snap, err
}

// GetAuction returns the live auction record.
func (e Engine) GetAuction(ctx context.Context, auctionID string) (domain.Auction, error) {
	var a domain.Auction
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		a = st.Auction
		return nil
	})
	return a, err
}

// Ledger returns every recorded bid, accepted and rejected, in commit order.
func (e Engine) Ledger(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		bids = st.History()
		return nil
	})
	return bids, err
}

// ProxyAgents lists the auction's agents, including cancelled ones.
func (e Engine) ProxyAgents(ctx context.Context, auctionID string) ([]domain.ProxyAgent, error) {
	var agents []domain.ProxyAgent
	err := e.withState(ctx, auctionID, func(st *auction.State) error {
		agents = append([]domain.ProxyAgent(nil), st.Agents...)
		return nil
	})
	return agents, err
}
