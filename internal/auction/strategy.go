package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

var (
	two         = decimal.NewFromInt(2)
	oneAndAHalf = decimal.RequireFromString("1.5")
)

func agentIncrement(a domain.Auction, p domain.ProxyAgent) decimal.Decimal {
	if p.Increment != nil && p.Increment.IsPositive() {
		return *p.Increment
	}
	return a.MinIncrement
}

// step returns how far above the current price the agent wants to go.
func step(a domain.Auction, p domain.ProxyAgent, now time.Time) decimal.Decimal {
	inc := agentIncrement(a, p)
	switch p.Strategy {
	case domain.StrategyAggressive:
		return inc.Mul(two)
	case domain.StrategyAdaptive:
		left := a.EndTime.Sub(now)
		switch {
		case left < time.Hour:
			return inc.Mul(two)
		case left < 6*time.Hour:
			return inc.Mul(oneAndAHalf)
		}
		return inc
	default:
		return inc
	}
}

// NextProxyAmount computes the amount the agent would bid now. The result is
// never above the ceiling and never below the minimum legal bid unless the
// ceiling itself is below it; callers treat that case as exhaustion.
func NextProxyAmount(a domain.Auction, p domain.ProxyAgent, now time.Time) decimal.Decimal {
	next := decimal.Max(a.CurrentPrice.Add(step(a, p, now)), MinimumNextBid(a))
	return decimal.Min(next, p.Ceiling)
}
