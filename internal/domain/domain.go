package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	StatusScheduled AuctionStatus = "scheduled"
	StatusActive    AuctionStatus = "active"
	StatusEnded     AuctionStatus = "ended"
	StatusSettled   AuctionStatus = "settled"
)

type EndReason string

const (
	EndExpired   EndReason = "expired"
	EndBuyNow    EndReason = "buy_now"
	EndCancelled EndReason = "cancelled"
)

type BidOrigin string

const (
	OriginHuman BidOrigin = "human"
	OriginProxy BidOrigin = "proxy"
)

type BidOutcome string

const (
	OutcomeAccepted BidOutcome = "accepted"
	OutcomeRejected BidOutcome = "rejected"
)

type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyAggressive   Strategy = "aggressive"
	StrategyAdaptive     Strategy = "adaptive"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyConservative, StrategyAggressive, StrategyAdaptive:
		return true
	}
	return false
}

type Auction struct {
	ID              string
	SellerID        string
	Title           string
	StartingPrice   decimal.Decimal
	ReservePrice    *decimal.Decimal
	BuyNowPrice     *decimal.Decimal
	MinIncrement    decimal.Decimal
	CurrentPrice    decimal.Decimal
	WinnerID        string
	WinningBidID    string
	BidCount        int
	UniqueBidders   int
	StartTime       time.Time
	EndTime         time.Time
	AutoExtend      bool
	ExtensionWindow time.Duration
	ExtensionLength time.Duration
	ExtensionsUsed  int
	MaxExtensions   int
	Status          AuctionStatus
	EndReason       EndReason
	EndedAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

// ReserveMet is true when there is no reserve or the current winning price reaches it.
func (a Auction) ReserveMet() bool {
	if a.WinnerID == "" {
		return false
	}
	if a.ReservePrice == nil {
		return true
	}
	return a.CurrentPrice.GreaterThanOrEqual(*a.ReservePrice)
}

type Bid struct {
	ID           string
	AuctionID    string
	BidderID     string
	Amount       decimal.Decimal
	Origin       BidOrigin
	Outcome      BidOutcome
	RejectReason string
	MinimumBid   *decimal.Decimal
	Winning      bool
	Cancelled    bool
	Seq          int64
	SubmittedAt  time.Time
}

type ProxyAgent struct {
	ID         string
	AuctionID  string
	BidderID   string
	Ceiling    decimal.Decimal
	Increment  *decimal.Decimal
	Strategy   Strategy
	BidsPlaced int
	Active     bool
	Exhausted  bool
	Seq        int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is an entry of the append-only event log. Payload is decoded JSON.
type Event struct {
	ID         int64
	TS         time.Time
	Type       string
	AuctionID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    map[string]any
}
