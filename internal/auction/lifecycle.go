package auction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

// Listing describes an auction to be created.
type Listing struct {
	ID              string
	SellerID        string
	Title           string
	StartingPrice   decimal.Decimal
	ReservePrice    *decimal.Decimal
	BuyNowPrice     *decimal.Decimal
	MinIncrement    decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	AutoExtend      bool
	ExtensionWindow time.Duration
	ExtensionLength time.Duration
	MaxExtensions   int
}

// Settlement is handed to the payment side once an auction settles. WinnerID
// is empty when nobody won or the reserve was not met.
type Settlement struct {
	AuctionID  string
	WinnerID   string
	Amount     decimal.Decimal
	ReserveMet bool
	EndReason  domain.EndReason
}

// NewAuction validates a listing and builds the auction record. Auctions whose
// start time has passed open immediately.
func NewAuction(l Listing, now time.Time) (domain.Auction, error) {
	if strings.TrimSpace(l.ID) == "" {
		return domain.Auction{}, errors.New("auction id required")
	}
	if strings.TrimSpace(l.SellerID) == "" {
		return domain.Auction{}, errors.New("seller id required")
	}
	if !l.StartingPrice.IsPositive() {
		return domain.Auction{}, InvalidAmount("starting price must be positive, got %s", l.StartingPrice.String())
	}
	if !l.MinIncrement.IsPositive() {
		return domain.Auction{}, InvalidAmount("minimum increment must be positive, got %s", l.MinIncrement.String())
	}
	if l.ReservePrice != nil && !l.ReservePrice.IsPositive() {
		return domain.Auction{}, InvalidAmount("reserve price must be positive, got %s", l.ReservePrice.String())
	}
	if l.BuyNowPrice != nil && l.BuyNowPrice.LessThanOrEqual(l.StartingPrice) {
		return domain.Auction{}, InvalidAmount("buy-now price %s must exceed starting price %s", l.BuyNowPrice.String(), l.StartingPrice.String())
	}
	if l.StartTime.IsZero() {
		l.StartTime = now
	}
	if !l.EndTime.After(l.StartTime) {
		return domain.Auction{}, errors.New("invalid schedule: end time must be after start time")
	}
	if l.AutoExtend {
		if l.ExtensionWindow <= 0 || l.ExtensionLength <= 0 {
			return domain.Auction{}, errors.New("invalid extension: window and length must be positive")
		}
		if l.MaxExtensions < 0 {
			return domain.Auction{}, fmt.Errorf("invalid extension: max extensions %d", l.MaxExtensions)
		}
	}
	status := domain.StatusScheduled
	if !now.Before(l.StartTime) {
		status = domain.StatusActive
	}
	return domain.Auction{
		ID:              l.ID,
		SellerID:        l.SellerID,
		Title:           l.Title,
		StartingPrice:   l.StartingPrice,
		ReservePrice:    l.ReservePrice,
		BuyNowPrice:     l.BuyNowPrice,
		MinIncrement:    l.MinIncrement,
		CurrentPrice:    l.StartingPrice,
		StartTime:       l.StartTime,
		EndTime:         l.EndTime,
		AutoExtend:      l.AutoExtend,
		ExtensionWindow: l.ExtensionWindow,
		ExtensionLength: l.ExtensionLength,
		MaxExtensions:   l.MaxExtensions,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}, nil
}

func transitionErr(a domain.Auction, to string) *Error {
	return newError(CodeInvalidTransition, "cannot %s auction %s in status %s", to, a.ID, a.Status)
}

// Start opens a scheduled auction. An auction started after its end time
// closes straight away as expired.
func (s *State) Start(actorID string, now time.Time) error {
	if s.Auction.Status != domain.StatusScheduled {
		return transitionErr(s.Auction, "start")
	}
	s.Auction.Status = domain.StatusActive
	s.touch(now)
	s.emit(EventAuctionStarted, "auction", s.Auction.ID, actorID, now, map[string]any{
		"end_time": s.Auction.EndTime.UTC().Format(time.RFC3339Nano),
	})
	if !now.Before(s.Auction.EndTime) {
		s.end(domain.EndExpired, actorID, now)
	}
	return nil
}

// Cancel ends a scheduled or active auction on behalf of the seller or an admin.
func (s *State) Cancel(actorID string, now time.Time) error {
	switch s.Auction.Status {
	case domain.StatusScheduled, domain.StatusActive:
	default:
		return transitionErr(s.Auction, "cancel")
	}
	s.end(domain.EndCancelled, actorID, now)
	return nil
}

// Expire closes the auction if its end time has passed. It reports whether the
// auction was closed by this call.
func (s *State) Expire(now time.Time) bool {
	switch s.Auction.Status {
	case domain.StatusScheduled, domain.StatusActive:
	default:
		return false
	}
	if now.Before(s.Auction.EndTime) {
		return false
	}
	s.end(domain.EndExpired, "", now)
	return true
}

// Settle moves an ended auction to settled.
func (s *State) Settle(actorID string, now time.Time) (Settlement, error) {
	if s.Auction.Status != domain.StatusEnded {
		return Settlement{}, transitionErr(s.Auction, "settle")
	}
	a := &s.Auction
	a.Status = domain.StatusSettled
	s.touch(now)
	st := Settlement{
		AuctionID:  a.ID,
		ReserveMet: a.ReserveMet(),
		EndReason:  a.EndReason,
	}
	if st.ReserveMet && a.EndReason != domain.EndCancelled {
		st.WinnerID = a.WinnerID
		st.Amount = a.CurrentPrice
	}
	s.emit(EventAuctionSettled, "auction", a.ID, actorID, now, map[string]any{
		"winner_id":   st.WinnerID,
		"amount":      st.Amount.String(),
		"reserve_met": st.ReserveMet,
	})
	return st, nil
}

// SoftCancelBid flags a bid as cancelled for audit. Price and winner are not
// recomputed.
func (s *State) SoftCancelBid(bidID, actorID string, now time.Time) (domain.Bid, error) {
	for i := range s.Ledger {
		if s.Ledger[i].ID != bidID {
			continue
		}
		if !s.Ledger[i].Cancelled {
			s.Ledger[i].Cancelled = true
			s.touchBid(i)
			s.emit(EventBidCancelled, "bid", bidID, actorID, now, map[string]any{
				"bidder_id": s.Ledger[i].BidderID,
				"amount":    s.Ledger[i].Amount.String(),
			})
		}
		return s.Ledger[i], nil
	}
	return domain.Bid{}, newError(CodeBidNotFound, "bid %s not found", bidID)
}
