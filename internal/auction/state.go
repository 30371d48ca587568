package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

// Event types recorded in the event log.
const (
	EventAuctionCreated  = "auction.created"
	EventAuctionStarted  = "auction.started"
	EventAuctionExtended = "auction.extended"
	EventAuctionEnded    = "auction.ended"
	EventAuctionSettled  = "auction.settled"
	EventBidAccepted     = "bid.accepted"
	EventBidRejected     = "bid.rejected"
	EventBidOutbid       = "bid.outbid"
	EventBidCancelled    = "bid.cancelled"
	EventProxySet        = "proxy.set"
	EventProxyUpdated    = "proxy.updated"
	EventProxyCancelled  = "proxy.cancelled"
	EventProxyExhausted  = "proxy.exhausted"
)

// State is the in-memory state of one auction. It is not safe for concurrent
// use; the engine guarantees a single holder at a time.
type State struct {
	Auction domain.Auction
	// Agents are kept in creation order.
	Agents []domain.ProxyAgent
	// Ledger holds every recorded bid in commit order.
	Ledger []domain.Bid
	NewID  func() string

	bidders  map[string]struct{}
	winIdx   int
	seq      int64
	agentSeq int64
	pending  pending
}

type pending struct {
	dirty  bool
	bids   []int
	agents []int
	events []domain.Event
}

// Changes is everything one operation altered, in the order it happened. The
// engine hands it to the journal after releasing the auction.
type Changes struct {
	Auction domain.Auction
	Bids    []domain.Bid
	Agents  []domain.ProxyAgent
	Events  []domain.Event
}

func (c Changes) Empty() bool {
	return len(c.Bids) == 0 && len(c.Agents) == 0 && len(c.Events) == 0
}

// Result is what a bid submission reports back to its caller.
type Result struct {
	Accepted    bool
	Bid         domain.Bid
	CascadeBids []domain.Bid
	Extended    bool
	Snapshot    Snapshot
}

type Snapshot struct {
	AuctionID      string
	Status         domain.AuctionStatus
	EndReason      domain.EndReason
	StartingPrice  decimal.Decimal
	CurrentPrice   decimal.Decimal
	MinimumNextBid decimal.Decimal
	BuyNowPrice    *decimal.Decimal
	WinnerID       string
	StartTime      time.Time
	EndTime        time.Time
	TotalBids      int
	UniqueBidders  int
	ExtensionsUsed int
	MaxExtensions  int
	ReserveMet     bool
}

// NewState rebuilds the working state of an auction from its stored records.
// agents and ledger may be nil for a fresh auction.
func NewState(a domain.Auction, agents []domain.ProxyAgent, ledger []domain.Bid) *State {
	s := &State{
		Auction: a,
		Agents:  agents,
		Ledger:  ledger,
		bidders: make(map[string]struct{}),
		winIdx:  -1,
	}
	for i, b := range ledger {
		if b.Seq > s.seq {
			s.seq = b.Seq
		}
		if b.Outcome == domain.OutcomeAccepted {
			s.bidders[b.BidderID] = struct{}{}
		}
		if b.ID == a.WinningBidID && a.WinningBidID != "" {
			s.winIdx = i
		}
	}
	for _, p := range agents {
		if p.Seq > s.agentSeq {
			s.agentSeq = p.Seq
		}
	}
	return s
}

func (s *State) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *State) Snapshot() Snapshot {
	a := s.Auction
	return Snapshot{
		AuctionID:      a.ID,
		Status:         a.Status,
		EndReason:      a.EndReason,
		StartingPrice:  a.StartingPrice,
		CurrentPrice:   a.CurrentPrice,
		MinimumNextBid: MinimumNextBid(a),
		BuyNowPrice:    a.BuyNowPrice,
		WinnerID:       a.WinnerID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		TotalBids:      a.BidCount,
		UniqueBidders:  a.UniqueBidders,
		ExtensionsUsed: a.ExtensionsUsed,
		MaxExtensions:  a.MaxExtensions,
		ReserveMet:     a.ReserveMet(),
	}
}

// History returns a copy of the ledger.
func (s *State) History() []domain.Bid {
	out := make([]domain.Bid, len(s.Ledger))
	copy(out, s.Ledger)
	return out
}

// AgentFor returns the bidder's active agent.
func (s *State) AgentFor(bidderID string) (domain.ProxyAgent, bool) {
	if i := s.activeAgent(bidderID); i >= 0 {
		return s.Agents[i], true
	}
	return domain.ProxyAgent{}, false
}

// Drain returns and resets the changes accumulated since the last call.
func (s *State) Drain() Changes {
	p := s.pending
	s.pending = pending{}
	if !p.dirty && len(p.bids) == 0 && len(p.agents) == 0 && len(p.events) == 0 {
		return Changes{Auction: s.Auction}
	}
	s.Auction.Version++
	ch := Changes{Auction: s.Auction, Events: p.events}
	seen := make(map[int]bool, len(p.bids))
	for _, i := range p.bids {
		if seen[i] {
			continue
		}
		seen[i] = true
		ch.Bids = append(ch.Bids, s.Ledger[i])
	}
	seenAgent := make(map[int]bool, len(p.agents))
	for _, i := range p.agents {
		if seenAgent[i] {
			continue
		}
		seenAgent[i] = true
		ch.Agents = append(ch.Agents, s.Agents[i])
	}
	return ch
}

func (s *State) touch(now time.Time) {
	s.Auction.UpdatedAt = now
	s.pending.dirty = true
}

func (s *State) touchBid(i int) { s.pending.bids = append(s.pending.bids, i) }

func (s *State) touchAgent(i int, now time.Time) {
	s.Agents[i].UpdatedAt = now
	s.pending.agents = append(s.pending.agents, i)
}

func (s *State) emit(typ, kind, entityID, actorID string, now time.Time, payload map[string]any) {
	s.pending.events = append(s.pending.events, domain.Event{
		TS:         now,
		Type:       typ,
		AuctionID:  s.Auction.ID,
		EntityKind: kind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (s *State) appendBid(b domain.Bid) int {
	s.Ledger = append(s.Ledger, b)
	i := len(s.Ledger) - 1
	s.touchBid(i)
	return i
}

// place runs one bid through validation and records it in the ledger either
// way; accepted bids are applied to the auction. It returns the ledger index.
func (s *State) place(bidderID string, amount decimal.Decimal, origin domain.BidOrigin, now time.Time) (int, *Error) {
	d := Validate(s.Auction, bidderID, amount, now)
	s.seq++
	bid := domain.Bid{
		ID:          s.newID(),
		AuctionID:   s.Auction.ID,
		BidderID:    bidderID,
		Amount:      amount,
		Origin:      origin,
		Seq:         s.seq,
		SubmittedAt: now,
	}
	if d.Err != nil {
		bid.Outcome = domain.OutcomeRejected
		bid.RejectReason = string(d.Err.Code)
		bid.MinimumBid = d.Err.Minimum
		idx := s.appendBid(bid)
		payload := map[string]any{"amount": amount.String(), "reason": string(d.Err.Code), "origin": string(origin)}
		if d.Err.Minimum != nil {
			payload["minimum_bid"] = d.Err.Minimum.String()
		}
		s.emit(EventBidRejected, "bid", bid.ID, bidderID, now, payload)
		return idx, d.Err
	}

	bid.Amount = d.Amount
	bid.Outcome = domain.OutcomeAccepted
	bid.Winning = true
	if s.winIdx >= 0 {
		s.Ledger[s.winIdx].Winning = false
		s.touchBid(s.winIdx)
	}
	idx := s.appendBid(bid)
	s.winIdx = idx

	a := &s.Auction
	previous := a.WinnerID
	a.CurrentPrice = bid.Amount
	a.WinnerID = bidderID
	a.WinningBidID = bid.ID
	a.BidCount++
	if _, ok := s.bidders[bidderID]; !ok {
		s.bidders[bidderID] = struct{}{}
		a.UniqueBidders++
	}
	s.touch(now)
	s.emit(EventBidAccepted, "bid", bid.ID, bidderID, now, map[string]any{
		"amount": bid.Amount.String(),
		"origin": string(origin),
		"seq":    bid.Seq,
	})
	if previous != "" && previous != bidderID {
		s.emit(EventBidOutbid, "bid", bid.ID, previous, now, map[string]any{
			"outbid_by": bidderID,
			"amount":    bid.Amount.String(),
		})
	}
	if d.Verdict == BuyNow {
		s.end(domain.EndBuyNow, bidderID, now)
		return idx, nil
	}
	s.extend(now)
	return idx, nil
}

// Submit applies a human bid and the proxy cascade it provokes. Every
// accepted bid, human or proxy, gets its own auto-extension check before the
// next one is placed. Non-positive amounts are recorded as rejected bids.
func (s *State) Submit(bidderID string, amount decimal.Decimal, now time.Time) (Result, error) {
	extensions := s.Auction.ExtensionsUsed
	idx, err := s.place(bidderID, amount, domain.OriginHuman, now)
	if err != nil {
		if err.Code == CodeAuctionEnded && s.Auction.Status == domain.StatusActive {
			s.end(domain.EndExpired, "", now)
		}
		return Result{Bid: s.Ledger[idx], Snapshot: s.Snapshot()}, err
	}
	res := Result{Accepted: true}
	if s.Auction.Status == domain.StatusActive {
		res.CascadeBids = s.cascade(now)
	}
	res.Extended = s.Auction.ExtensionsUsed > extensions
	res.Bid = s.Ledger[idx]
	res.Snapshot = s.Snapshot()
	return res, nil
}

func (s *State) extend(now time.Time) bool {
	by, ok := ShouldExtend(s.Auction, now)
	if !ok {
		return false
	}
	previous := s.Auction.EndTime
	s.Auction.EndTime = previous.Add(by)
	s.Auction.ExtensionsUsed++
	s.touch(now)
	s.emit(EventAuctionExtended, "auction", s.Auction.ID, "", now, map[string]any{
		"previous_end_time": previous.UTC().Format(time.RFC3339Nano),
		"end_time":          s.Auction.EndTime.UTC().Format(time.RFC3339Nano),
		"extensions_used":   s.Auction.ExtensionsUsed,
	})
	return true
}

func (s *State) end(reason domain.EndReason, actorID string, now time.Time) {
	a := &s.Auction
	a.Status = domain.StatusEnded
	a.EndReason = reason
	ended := now
	a.EndedAt = &ended
	s.touch(now)
	s.emit(EventAuctionEnded, "auction", a.ID, actorID, now, map[string]any{
		"reason":      string(reason),
		"winner_id":   a.WinnerID,
		"price":       a.CurrentPrice.String(),
		"reserve_met": a.ReserveMet(),
	})
}
