package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

type ProxyRequest struct {
	BidderID  string
	Ceiling   decimal.Decimal
	Increment *decimal.Decimal
	Strategy  domain.Strategy
}

// ProxyUpdate carries the fields an owner may change; nil leaves a field as is.
type ProxyUpdate struct {
	BidderID  string
	Ceiling   *decimal.Decimal
	Increment *decimal.Decimal
	Strategy  *domain.Strategy
}

func (s *State) activeAgent(bidderID string) int {
	for i, p := range s.Agents {
		if p.Active && p.BidderID == bidderID {
			return i
		}
	}
	return -1
}

func (s *State) acceptsProxies(now time.Time) *Error {
	a := s.Auction
	if a.Status != domain.StatusActive && a.Status != domain.StatusScheduled {
		return newError(CodeAuctionNotActive, "auction %s is %s", a.ID, a.Status)
	}
	if !now.Before(a.EndTime) {
		return newError(CodeAuctionEnded, "auction %s ended at %s", a.ID, a.EndTime.UTC().Format(time.RFC3339))
	}
	return nil
}

func checkProxyMoney(ceiling, increment *decimal.Decimal) error {
	if ceiling != nil && !ceiling.IsPositive() {
		return InvalidAmount("proxy ceiling must be positive, got %s", ceiling.String())
	}
	if increment != nil && !increment.IsPositive() {
		return InvalidAmount("proxy increment must be positive, got %s", increment.String())
	}
	return nil
}

// SetProxy registers a standing proxy agent. It does not bid by itself; the
// agent takes part in the cascade that follows the next accepted bid.
func (s *State) SetProxy(req ProxyRequest, now time.Time) (domain.ProxyAgent, error) {
	if err := checkProxyMoney(&req.Ceiling, req.Increment); err != nil {
		return domain.ProxyAgent{}, err
	}
	if req.Strategy == "" {
		req.Strategy = domain.StrategyConservative
	}
	if !req.Strategy.Valid() {
		return domain.ProxyAgent{}, fmt.Errorf("invalid strategy %q", req.Strategy)
	}
	if err := s.acceptsProxies(now); err != nil {
		return domain.ProxyAgent{}, err
	}
	if req.BidderID == s.Auction.SellerID {
		return domain.ProxyAgent{}, newError(CodeSelfBid, "seller cannot bid on own auction")
	}
	if s.activeAgent(req.BidderID) >= 0 {
		return domain.ProxyAgent{}, newError(CodeDuplicateProxyAgent, "bidder %s already has an active proxy agent", req.BidderID)
	}
	if !req.Ceiling.GreaterThan(s.Auction.CurrentPrice) {
		return domain.ProxyAgent{}, newError(CodeProxyCeilingTooLow, "proxy ceiling %s must exceed current price %s", req.Ceiling.String(), s.Auction.CurrentPrice.String())
	}
	s.agentSeq++
	agent := domain.ProxyAgent{
		ID:        s.newID(),
		AuctionID: s.Auction.ID,
		BidderID:  req.BidderID,
		Ceiling:   req.Ceiling,
		Increment: req.Increment,
		Strategy:  req.Strategy,
		Active:    true,
		Seq:       s.agentSeq,
		CreatedAt: now,
	}
	s.Agents = append(s.Agents, agent)
	i := len(s.Agents) - 1
	s.touchAgent(i, now)
	payload := map[string]any{"ceiling": req.Ceiling.String(), "strategy": string(req.Strategy)}
	if req.Increment != nil {
		payload["increment"] = req.Increment.String()
	}
	s.emit(EventProxySet, "proxy_agent", agent.ID, req.BidderID, now, payload)
	return s.Agents[i], nil
}

// UpdateProxy changes the owner's active agent. An exhausted agent is re-armed
// once its ceiling can top the price again.
func (s *State) UpdateProxy(upd ProxyUpdate, now time.Time) (domain.ProxyAgent, error) {
	if err := checkProxyMoney(upd.Ceiling, upd.Increment); err != nil {
		return domain.ProxyAgent{}, err
	}
	if upd.Strategy != nil && !upd.Strategy.Valid() {
		return domain.ProxyAgent{}, fmt.Errorf("invalid strategy %q", *upd.Strategy)
	}
	i := s.activeAgent(upd.BidderID)
	if i < 0 {
		return domain.ProxyAgent{}, newError(CodeProxyAgentNotFound, "bidder %s has no active proxy agent", upd.BidderID)
	}
	if err := s.acceptsProxies(now); err != nil {
		return domain.ProxyAgent{}, err
	}
	if upd.Ceiling != nil && !upd.Ceiling.GreaterThan(s.Auction.CurrentPrice) {
		return domain.ProxyAgent{}, newError(CodeProxyCeilingTooLow, "proxy ceiling %s must exceed current price %s", upd.Ceiling.String(), s.Auction.CurrentPrice.String())
	}
	p := &s.Agents[i]
	payload := map[string]any{}
	if upd.Ceiling != nil {
		p.Ceiling = *upd.Ceiling
		payload["ceiling"] = p.Ceiling.String()
	}
	if upd.Increment != nil {
		inc := *upd.Increment
		p.Increment = &inc
		payload["increment"] = inc.String()
	}
	if upd.Strategy != nil {
		p.Strategy = *upd.Strategy
		payload["strategy"] = string(p.Strategy)
	}
	if p.Exhausted && (p.BidderID == s.Auction.WinnerID || p.Ceiling.GreaterThanOrEqual(MinimumNextBid(s.Auction))) {
		p.Exhausted = false
		payload["rearmed"] = true
	}
	s.touchAgent(i, now)
	s.emit(EventProxyUpdated, "proxy_agent", p.ID, p.BidderID, now, payload)
	return *p, nil
}

// CancelProxy deactivates the owner's agent. The record is kept.
func (s *State) CancelProxy(bidderID string, now time.Time) (domain.ProxyAgent, error) {
	i := s.activeAgent(bidderID)
	if i < 0 {
		return domain.ProxyAgent{}, newError(CodeProxyAgentNotFound, "bidder %s has no active proxy agent", bidderID)
	}
	s.Agents[i].Active = false
	s.touchAgent(i, now)
	s.emit(EventProxyCancelled, "proxy_agent", s.Agents[i].ID, bidderID, now, map[string]any{
		"bids_placed": s.Agents[i].BidsPlaced,
	})
	return s.Agents[i], nil
}
