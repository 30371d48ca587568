package auction

import (
	"time"

	"bidline/internal/domain"
)

// cascade lets standing proxy agents answer the bid just accepted until no
// agent other than the current winner can top the price. Every placed bid
// raises the price by at least one increment and every skip removes a
// candidate, so the loop is bounded by the ceilings.
func (s *State) cascade(now time.Time) []domain.Bid {
	skipped := make(map[int]bool)
	var placed []int
	for s.Auction.Status == domain.StatusActive {
		i := s.nextCandidate(skipped)
		if i < 0 {
			break
		}
		agent := s.Agents[i]
		amount := NextProxyAmount(s.Auction, agent, now)
		if amount.LessThan(MinimumNextBid(s.Auction)) {
			skipped[i] = true
			s.exhaust(i, now)
			continue
		}
		idx, err := s.place(agent.BidderID, amount, domain.OriginProxy, now)
		if err != nil {
			skipped[i] = true
			continue
		}
		s.Agents[i].BidsPlaced++
		s.touchAgent(i, now)
		placed = append(placed, idx)
	}
	s.exhaustOutbid(now)

	bids := make([]domain.Bid, 0, len(placed))
	for _, idx := range placed {
		bids = append(bids, s.Ledger[idx])
	}
	return bids
}

// nextCandidate picks the active agent with the highest ceiling above the
// current price, excluding the current winner. Ties go to the earliest agent.
func (s *State) nextCandidate(skipped map[int]bool) int {
	best := -1
	for i, p := range s.Agents {
		if !p.Active || skipped[i] {
			continue
		}
		if p.BidderID == s.Auction.WinnerID {
			continue
		}
		if !p.Ceiling.GreaterThan(s.Auction.CurrentPrice) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := s.Agents[best]
		if p.Ceiling.GreaterThan(b.Ceiling) || (p.Ceiling.Equal(b.Ceiling) && p.Seq < b.Seq) {
			best = i
		}
	}
	return best
}

// exhaustOutbid marks every agent that can no longer produce a legal bid.
// The winner's own agent is left alone.
func (s *State) exhaustOutbid(now time.Time) {
	minimum := MinimumNextBid(s.Auction)
	for i, p := range s.Agents {
		if !p.Active || p.Exhausted || p.BidderID == s.Auction.WinnerID {
			continue
		}
		if p.Ceiling.LessThan(minimum) {
			s.exhaust(i, now)
		}
	}
}

func (s *State) exhaust(i int, now time.Time) {
	p := &s.Agents[i]
	if p.Exhausted {
		return
	}
	p.Exhausted = true
	s.touchAgent(i, now)
	s.emit(EventProxyExhausted, "proxy_agent", p.ID, p.BidderID, now, map[string]any{
		"ceiling": p.Ceiling.String(),
		"price":   s.Auction.CurrentPrice.String(),
	})
}
