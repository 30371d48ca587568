package bidlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a minimal Bidline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Auction represents the API auction model. Money fields are decimal strings.
type Auction struct {
	ID             string  `json:"id"`
	SellerID       string  `json:"seller_id"`
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	EndReason      string  `json:"end_reason"`
	StartingPrice  string  `json:"starting_price"`
	BuyNowPrice    *string `json:"buy_now_price"`
	MinIncrement   string  `json:"min_increment"`
	CurrentPrice   string  `json:"current_price"`
	MinimumNextBid string  `json:"minimum_next_bid"`
	WinnerID       string  `json:"winner_id"`
	BidCount       int     `json:"bid_count"`
	UniqueBidders  int     `json:"unique_bidders"`
	HasReserve     bool    `json:"has_reserve"`
	ReserveMet     bool    `json:"reserve_met"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	AutoExtend     bool    `json:"auto_extend"`
	ExtensionsUsed int     `json:"extensions_used"`
	MaxExtensions  int     `json:"max_extensions"`
	Version        int64   `json:"version"`
}

// NewAuction is the create payload. Nil fields fall back to server defaults.
type NewAuction struct {
	ID              string  `json:"id,omitempty"`
	Title           string  `json:"title,omitempty"`
	StartingPrice   string  `json:"starting_price"`
	ReservePrice    *string `json:"reserve_price,omitempty"`
	BuyNowPrice     *string `json:"buy_now_price,omitempty"`
	MinIncrement    *string `json:"min_increment,omitempty"`
	StartTime       *string `json:"start_time,omitempty"`
	EndTime         string  `json:"end_time"`
	AutoExtend      *bool   `json:"auto_extend,omitempty"`
	ExtensionWindow *string `json:"extension_window,omitempty"`
	ExtensionLength *string `json:"extension_length,omitempty"`
	MaxExtensions   *int    `json:"max_extensions,omitempty"`
}

// Bid is a ledger entry.
type Bid struct {
	ID           string  `json:"id"`
	AuctionID    string  `json:"auction_id"`
	BidderID     string  `json:"bidder_id"`
	Amount       string  `json:"amount"`
	Origin       string  `json:"origin"`
	Outcome      string  `json:"outcome"`
	RejectReason string  `json:"reject_reason"`
	MinimumBid   *string `json:"minimum_bid"`
	Winning      bool    `json:"winning"`
	Cancelled    bool    `json:"cancelled"`
	Seq          int64   `json:"seq"`
	SubmittedAt  string  `json:"submitted_at"`
}

// BidResult is returned for an accepted bid.
type BidResult struct {
	Accepted       bool   `json:"accepted"`
	Bid            Bid    `json:"bid"`
	CascadeBids    []Bid  `json:"cascade_bids"`
	Extended       bool   `json:"extended"`
	CurrentPrice   string `json:"current_price"`
	MinimumNextBid string `json:"minimum_next_bid"`
	WinnerID       string `json:"winner_id"`
	EndTime        string `json:"end_time"`
	Status         string `json:"status"`
}

// ProxyAgent represents a standing proxy bid.
type ProxyAgent struct {
	ID         string  `json:"id"`
	AuctionID  string  `json:"auction_id"`
	BidderID   string  `json:"bidder_id"`
	Ceiling    string  `json:"ceiling"`
	Increment  *string `json:"increment"`
	Strategy   string  `json:"strategy"`
	BidsPlaced int     `json:"bids_placed"`
	Active     bool    `json:"active"`
	Exhausted  bool    `json:"exhausted"`
}

// Settlement is the payment hand-off record.
type Settlement struct {
	AuctionID  string `json:"auction_id"`
	WinnerID   string `json:"winner_id"`
	Amount     string `json:"amount"`
	ReserveMet bool   `json:"reserve_met"`
	EndReason  string `json:"end_reason"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	AuctionID  string         `json:"auction_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server flagged the failure as transient.
func (e *APIError) Retryable() bool {
	v, _ := e.Details["retryable"].(bool)
	return v
}

// MinimumBid returns the smallest acceptable amount for a bid_too_low error.
func (e *APIError) MinimumBid() (decimal.Decimal, bool) {
	raw, ok := e.Details["minimum_bid"].(string)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	return d, err == nil
}

// CodeOf extracts the API error code from err, or "".
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// CreateAuction lists a new auction; the caller is the seller.
func (c *Client) CreateAuction(ctx context.Context, in NewAuction) (Auction, error) {
	var resp Auction
	err := c.do(ctx, http.MethodPost, "auctions", in, &resp)
	return resp, err
}

// GetAuction returns the live auction state.
func (c *Client) GetAuction(ctx context.Context, id string) (Auction, error) {
	var resp Auction
	err := c.do(ctx, http.MethodGet, auctionPath(id, ""), nil, &resp)
	return resp, err
}

// ListAuctions lists auctions, optionally by status.
func (c *Client) ListAuctions(ctx context.Context, status string, limit int) ([]Auction, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []Auction `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("auctions", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) StartAuction(ctx context.Context, id string) (Auction, error) {
	return c.lifecycle(ctx, id, "start")
}

func (c *Client) CancelAuction(ctx context.Context, id string) (Auction, error) {
	return c.lifecycle(ctx, id, "cancel")
}

func (c *Client) ExpireAuction(ctx context.Context, id string) (Auction, error) {
	return c.lifecycle(ctx, id, "expire")
}

func (c *Client) lifecycle(ctx context.Context, id, action string) (Auction, error) {
	var resp Auction
	err := c.do(ctx, http.MethodPost, auctionPath(id, action), nil, &resp)
	return resp, err
}

// SettleAuction hands an ended auction off to payment.
func (c *Client) SettleAuction(ctx context.Context, id string) (Settlement, error) {
	var resp Settlement
	err := c.do(ctx, http.MethodPost, auctionPath(id, "settle"), nil, &resp)
	return resp, err
}

// PlaceBid submits a bid as the authenticated bidder.
func (c *Client) PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal) (BidResult, error) {
	var resp BidResult
	body := map[string]any{"amount": amount.String()}
	err := c.do(ctx, http.MethodPost, auctionPath(auctionID, "bids"), body, &resp)
	return resp, err
}

// Bids returns the full ledger, rejected bids included.
func (c *Client) Bids(ctx context.Context, auctionID string) ([]Bid, error) {
	var resp struct {
		Items []Bid `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, auctionPath(auctionID, "bids"), nil, &resp)
	return resp.Items, err
}

// CancelBid flags a bid as cancelled. Requires the admin role.
func (c *Client) CancelBid(ctx context.Context, auctionID, bidID string) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPost, auctionPath(auctionID, "bids/"+url.PathEscape(bidID)+"/cancel"), nil, &resp)
	return resp, err
}

// SetProxy registers a proxy agent. increment may be nil; strategy may be "".
func (c *Client) SetProxy(ctx context.Context, auctionID string, ceiling decimal.Decimal, increment *decimal.Decimal, strategy string) (ProxyAgent, error) {
	body := map[string]any{"ceiling": ceiling.String()}
	if increment != nil {
		body["increment"] = increment.String()
	}
	if strategy != "" {
		body["strategy"] = strategy
	}
	var resp ProxyAgent
	err := c.do(ctx, http.MethodPut, auctionPath(auctionID, "proxy"), body, &resp)
	return resp, err
}

// UpdateProxy changes the caller's active agent. Nil fields are left alone.
func (c *Client) UpdateProxy(ctx context.Context, auctionID string, ceiling, increment *decimal.Decimal, strategy *string) (ProxyAgent, error) {
	body := map[string]any{}
	if ceiling != nil {
		body["ceiling"] = ceiling.String()
	}
	if increment != nil {
		body["increment"] = increment.String()
	}
	if strategy != nil {
		body["strategy"] = *strategy
	}
	var resp ProxyAgent
	err := c.do(ctx, http.MethodPatch, auctionPath(auctionID, "proxy"), body, &resp)
	return resp, err
}

func (c *Client) CancelProxy(ctx context.Context, auctionID string) (ProxyAgent, error) {
	var resp ProxyAgent
	err := c.do(ctx, http.MethodDelete, auctionPath(auctionID, "proxy"), nil, &resp)
	return resp, err
}

func (c *Client) Proxy(ctx context.Context, auctionID string) (ProxyAgent, error) {
	var resp ProxyAgent
	err := c.do(ctx, http.MethodGet, auctionPath(auctionID, "proxy"), nil, &resp)
	return resp, err
}

// EventsPage returns a page of events, newest first.
func (c *Client) EventsPage(ctx context.Context, auctionID, eventType string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if auctionID != "" {
		q.Set("auction_id", auctionID)
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func auctionPath(id, sub string) string {
	p := "auctions/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
