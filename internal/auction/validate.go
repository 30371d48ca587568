package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

type Verdict int

const (
	Reject Verdict = iota
	Accept
	BuyNow
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case BuyNow:
		return "buy_now"
	default:
		return "reject"
	}
}

// Decision is the outcome of Validate. Amount is the amount to record, which
// differs from the offer only when a buy-now is triggered.
type Decision struct {
	Verdict Verdict
	Amount  decimal.Decimal
	Err     *Error
}

// MinimumNextBid is the smallest amount the next bid may carry. The current
// price starts at the starting price, so an opening bid also has to clear one
// increment.
func MinimumNextBid(a domain.Auction) decimal.Decimal {
	return decimal.Max(a.CurrentPrice.Add(a.MinIncrement), a.StartingPrice)
}

// Validate applies the bid rules in order; the first failing rule decides.
// It does not mutate a and must only be called by the holder of the auction slot.
func Validate(a domain.Auction, bidderID string, amount decimal.Decimal, now time.Time) Decision {
	if !amount.IsPositive() {
		return Decision{Err: InvalidAmount("bid amount must be positive, got %s", amount.String())}
	}
	if a.Status != domain.StatusActive {
		return Decision{Err: newError(CodeAuctionNotActive, "auction %s is %s", a.ID, a.Status)}
	}
	if !now.Before(a.EndTime) {
		return Decision{Err: newError(CodeAuctionEnded, "auction %s ended at %s", a.ID, a.EndTime.UTC().Format(time.RFC3339))}
	}
	if bidderID == a.SellerID {
		return Decision{Err: newError(CodeSelfBid, "seller cannot bid on own auction")}
	}
	minimum := MinimumNextBid(a)
	if amount.LessThan(minimum) {
		return Decision{Err: bidTooLow(minimum)}
	}
	// Buy-now is exempt from the increment law: the auction closes at the
	// buy-now price even when that is below the minimum next bid.
	if a.BuyNowPrice != nil && amount.GreaterThanOrEqual(*a.BuyNowPrice) {
		return Decision{Verdict: BuyNow, Amount: *a.BuyNowPrice}
	}
	return Decision{Verdict: Accept, Amount: amount}
}

func (d Decision) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s(%s)", d.Verdict, d.Err.Code)
	}
	return fmt.Sprintf("%s(%s)", d.Verdict, d.Amount.String())
}
