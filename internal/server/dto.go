package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"bidline/internal/auction"
	"bidline/internal/domain"
	"bidline/internal/engine"
)

// Request payloads. Money travels as decimal strings.

type CreateAuctionRequest struct {
	ID              string  `json:"id,omitempty"`
	Title           string  `json:"title,omitempty"`
	StartingPrice   string  `json:"starting_price" example:"100.00"`
	ReservePrice    *string `json:"reserve_price,omitempty"`
	BuyNowPrice     *string `json:"buy_now_price,omitempty"`
	MinIncrement    *string `json:"min_increment,omitempty"`
	StartTime       *string `json:"start_time,omitempty" format:"date-time"`
	EndTime         string  `json:"end_time" format:"date-time"`
	AutoExtend      *bool   `json:"auto_extend,omitempty"`
	ExtensionWindow *string `json:"extension_window,omitempty" example:"5m"`
	ExtensionLength *string `json:"extension_length,omitempty" example:"5m"`
	MaxExtensions   *int    `json:"max_extensions,omitempty" minimum:"0"`
}

type BidRequest struct {
	Amount string `json:"amount" example:"105.00"`
}

type SetProxyRequest struct {
	Ceiling   string  `json:"ceiling" example:"250.00"`
	Increment *string `json:"increment,omitempty"`
	Strategy  string  `json:"strategy,omitempty" enum:"conservative,aggressive,adaptive"`
}

type UpdateProxyRequest struct {
	Ceiling   *string `json:"ceiling,omitempty"`
	Increment *string `json:"increment,omitempty"`
	Strategy  *string `json:"strategy,omitempty" enum:"conservative,aggressive,adaptive"`
}

// Response payloads

type AuctionResponse struct {
	ID             string  `json:"id"`
	SellerID       string  `json:"seller_id"`
	Title          string  `json:"title,omitempty"`
	Status         string  `json:"status" enum:"scheduled,active,ended,settled"`
	EndReason      string  `json:"end_reason,omitempty" enum:"expired,buy_now,cancelled"`
	StartingPrice  string  `json:"starting_price"`
	BuyNowPrice    *string `json:"buy_now_price,omitempty"`
	MinIncrement   string  `json:"min_increment"`
	CurrentPrice   string  `json:"current_price"`
	MinimumNextBid string  `json:"minimum_next_bid"`
	WinnerID       string  `json:"winner_id,omitempty"`
	BidCount       int     `json:"bid_count"`
	UniqueBidders  int     `json:"unique_bidders"`
	HasReserve     bool    `json:"has_reserve"`
	ReserveMet     bool    `json:"reserve_met"`
	StartTime      string  `json:"start_time" format:"date-time"`
	EndTime        string  `json:"end_time" format:"date-time"`
	AutoExtend     bool    `json:"auto_extend"`
	ExtensionsUsed int     `json:"extensions_used"`
	MaxExtensions  int     `json:"max_extensions"`
	EndedAt        *string `json:"ended_at,omitempty" format:"date-time"`
	Version        int64   `json:"version"`
}

type BidResponse struct {
	ID           string  `json:"id"`
	AuctionID    string  `json:"auction_id"`
	BidderID     string  `json:"bidder_id"`
	Amount       string  `json:"amount"`
	Origin       string  `json:"origin" enum:"human,proxy"`
	Outcome      string  `json:"outcome" enum:"accepted,rejected"`
	RejectReason string  `json:"reject_reason,omitempty"`
	MinimumBid   *string `json:"minimum_bid,omitempty"`
	Winning      bool    `json:"winning"`
	Cancelled    bool    `json:"cancelled"`
	Seq          int64   `json:"seq"`
	SubmittedAt  string  `json:"submitted_at" format:"date-time"`
}

type BidResultResponse struct {
	Accepted       bool          `json:"accepted"`
	Bid            BidResponse   `json:"bid"`
	CascadeBids    []BidResponse `json:"cascade_bids"`
	Extended       bool          `json:"extended"`
	CurrentPrice   string        `json:"current_price"`
	MinimumNextBid string        `json:"minimum_next_bid"`
	WinnerID       string        `json:"winner_id,omitempty"`
	EndTime        string        `json:"end_time" format:"date-time"`
	Status         string        `json:"status"`
}

type ProxyAgentResponse struct {
	ID         string  `json:"id"`
	AuctionID  string  `json:"auction_id"`
	BidderID   string  `json:"bidder_id"`
	Ceiling    string  `json:"ceiling"`
	Increment  *string `json:"increment,omitempty"`
	Strategy   string  `json:"strategy" enum:"conservative,aggressive,adaptive"`
	BidsPlaced int     `json:"bids_placed"`
	Active     bool    `json:"active"`
	Exhausted  bool    `json:"exhausted"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type SettlementResponse struct {
	AuctionID  string `json:"auction_id"`
	WinnerID   string `json:"winner_id,omitempty"`
	Amount     string `json:"amount"`
	ReserveMet bool   `json:"reserve_met"`
	EndReason  string `json:"end_reason"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	AuctionID  string         `json:"auction_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type auctionList struct {
	Items []AuctionResponse `json:"items"`
}

type bidList struct {
	Items []BidResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func auctionResponse(a domain.Auction) AuctionResponse {
	res := AuctionResponse{
		ID:             a.ID,
		SellerID:       a.SellerID,
		Title:          a.Title,
		Status:         string(a.Status),
		EndReason:      string(a.EndReason),
		StartingPrice:  a.StartingPrice.String(),
		BuyNowPrice:    decimalString(a.BuyNowPrice),
		MinIncrement:   a.MinIncrement.String(),
		CurrentPrice:   a.CurrentPrice.String(),
		MinimumNextBid: auction.MinimumNextBid(a).String(),
		WinnerID:       a.WinnerID,
		BidCount:       a.BidCount,
		UniqueBidders:  a.UniqueBidders,
		HasReserve:     a.ReservePrice != nil,
		ReserveMet:     a.ReserveMet(),
		StartTime:      formatTime(a.StartTime),
		EndTime:        formatTime(a.EndTime),
		AutoExtend:     a.AutoExtend,
		ExtensionsUsed: a.ExtensionsUsed,
		MaxExtensions:  a.MaxExtensions,
		Version:        a.Version,
	}
	if a.EndedAt != nil {
		ended := formatTime(*a.EndedAt)
		res.EndedAt = &ended
	}
	return res
}

func bidResponse(b domain.Bid) BidResponse {
	return BidResponse{
		ID:           b.ID,
		AuctionID:    b.AuctionID,
		BidderID:     b.BidderID,
		Amount:       b.Amount.String(),
		Origin:       string(b.Origin),
		Outcome:      string(b.Outcome),
		RejectReason: b.RejectReason,
		MinimumBid:   decimalString(b.MinimumBid),
		Winning:      b.Winning,
		Cancelled:    b.Cancelled,
		Seq:          b.Seq,
		SubmittedAt:  formatTime(b.SubmittedAt),
	}
}

func mapBids(items []domain.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(items))
	for _, b := range items {
		out = append(out, bidResponse(b))
	}
	return out
}

func bidResultResponse(r engine.BidResult) BidResultResponse {
	return BidResultResponse{
		Accepted:       r.Accepted,
		Bid:            bidResponse(r.Bid),
		CascadeBids:    mapBids(r.CascadeBids),
		Extended:       r.Extended,
		CurrentPrice:   r.CurrentPrice.String(),
		MinimumNextBid: r.MinimumNextBid.String(),
		WinnerID:       r.WinnerID,
		EndTime:        formatTime(r.EndTime),
		Status:         string(r.Status),
	}
}

func proxyAgentResponse(p domain.ProxyAgent) ProxyAgentResponse {
	return ProxyAgentResponse{
		ID:         p.ID,
		AuctionID:  p.AuctionID,
		BidderID:   p.BidderID,
		Ceiling:    p.Ceiling.String(),
		Increment:  decimalString(p.Increment),
		Strategy:   string(p.Strategy),
		BidsPlaced: p.BidsPlaced,
		Active:     p.Active,
		Exhausted:  p.Exhausted,
		CreatedAt:  formatTime(p.CreatedAt),
		UpdatedAt:  formatTime(p.UpdatedAt),
	}
}

func settlementResponse(s auction.Settlement) SettlementResponse {
	return SettlementResponse{
		AuctionID:  s.AuctionID,
		WinnerID:   s.WinnerID,
		Amount:     s.Amount.String(),
		ReserveMet: s.ReserveMet,
		EndReason:  string(s.EndReason),
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         formatTime(e.TS),
		Type:       e.Type,
		AuctionID:  e.AuctionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

// Parsing helpers. Each returns a 400 envelope naming the offending field.

func parseMoney(field, raw string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, newAPIError(http.StatusBadRequest, string(auction.CodeInvalidAmount),
			fmt.Sprintf("%s must be a decimal amount", field), map[string]any{"field": field, "value": raw})
	}
	return d, nil
}

func parseOptionalMoney(field string, raw *string) (*decimal.Decimal, huma.StatusError) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseMoney(field, *raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseTime(field, raw string) (time.Time, huma.StatusError) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request",
			fmt.Sprintf("%s must be an RFC 3339 timestamp", field), map[string]any{"field": field, "value": raw})
	}
	return t, nil
}

func parseDuration(field string, raw *string) (time.Duration, huma.StatusError) {
	if raw == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "bad_request",
			fmt.Sprintf("%s must be a duration such as 5m", field), map[string]any{"field": field, "value": *raw})
	}
	return d, nil
}

func (r CreateAuctionRequest) options(sellerID string) (engine.AuctionCreateOptions, huma.StatusError) {
	opts := engine.AuctionCreateOptions{
		ID:            r.ID,
		SellerID:      sellerID,
		Title:         r.Title,
		AutoExtend:    r.AutoExtend,
		MaxExtensions: r.MaxExtensions,
		ActorID:       sellerID,
	}
	var err huma.StatusError
	if opts.StartingPrice, err = parseMoney("starting_price", r.StartingPrice); err != nil {
		return opts, err
	}
	if opts.ReservePrice, err = parseOptionalMoney("reserve_price", r.ReservePrice); err != nil {
		return opts, err
	}
	if opts.BuyNowPrice, err = parseOptionalMoney("buy_now_price", r.BuyNowPrice); err != nil {
		return opts, err
	}
	if opts.MinIncrement, err = parseOptionalMoney("min_increment", r.MinIncrement); err != nil {
		return opts, err
	}
	if r.StartTime != nil {
		if opts.StartTime, err = parseTime("start_time", *r.StartTime); err != nil {
			return opts, err
		}
	}
	if opts.EndTime, err = parseTime("end_time", r.EndTime); err != nil {
		return opts, err
	}
	if opts.ExtensionWindow, err = parseDuration("extension_window", r.ExtensionWindow); err != nil {
		return opts, err
	}
	if opts.ExtensionLength, err = parseDuration("extension_length", r.ExtensionLength); err != nil {
		return opts, err
	}
	return opts, nil
}

func (r SetProxyRequest) request(bidderID string) (auction.ProxyRequest, huma.StatusError) {
	req := auction.ProxyRequest{BidderID: bidderID, Strategy: domain.Strategy(r.Strategy)}
	var err huma.StatusError
	if req.Ceiling, err = parseMoney("ceiling", r.Ceiling); err != nil {
		return req, err
	}
	if req.Increment, err = parseOptionalMoney("increment", r.Increment); err != nil {
		return req, err
	}
	return req, nil
}

func (r UpdateProxyRequest) update(bidderID string) (auction.ProxyUpdate, huma.StatusError) {
	upd := auction.ProxyUpdate{BidderID: bidderID}
	var err huma.StatusError
	if upd.Ceiling, err = parseOptionalMoney("ceiling", r.Ceiling); err != nil {
		return upd, err
	}
	if upd.Increment, err = parseOptionalMoney("increment", r.Increment); err != nil {
		return upd, err
	}
	if r.Strategy != nil {
		s := domain.Strategy(*r.Strategy)
		upd.Strategy = &s
	}
	return upd, nil
}
