package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bidline/internal/auction"
	"bidline/internal/engine"
	"bidline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bid_too_low"`
	Message string         `json:"message" example:"bid must be at least 110"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"minimum_bid\":\"110\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the bidline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Log
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Bidline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuctions(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerBids(group, cfg.Engine)
	registerProxy(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func statusForCode(code auction.Code) int {
	switch code {
	case auction.CodeAuctionNotFound, auction.CodeProxyAgentNotFound, auction.CodeBidNotFound:
		return http.StatusNotFound
	case auction.CodeSelfBid:
		return http.StatusForbidden
	case auction.CodeBidTooLow, auction.CodeProxyCeilingTooLow:
		return http.StatusUnprocessableEntity
	case auction.CodeInvalidAmount:
		return http.StatusBadRequest
	default:
		// not active, ended, duplicate agent, invalid transition, slot conflict
		return http.StatusConflict
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ae *auction.Error
	if errors.As(err, &ae) {
		var details map[string]any
		switch {
		case ae.Code == auction.CodeBidTooLow && ae.Minimum != nil:
			details = map[string]any{"minimum_bid": ae.Minimum.String()}
		case auction.IsRetryable(ae):
			details = map[string]any{"retryable": true}
		}
		return newAPIError(statusForCode(ae.Code), string(ae.Code), ae.Error(), details)
	}
	if errors.Is(err, engine.ErrForbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), map[string]any{"retryable": true})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type auctionPath struct {
	AuctionID string `path:"auction_id"`
}

type auctionOutput struct {
	Body AuctionResponse `json:"body"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuctions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-auction",
		Method:        http.MethodPost,
		Path:          "/auctions",
		Summary:       "List an auction; the caller is the seller",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAuctionRequest `json:"body"`
	}) (*auctionOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts, perr := input.Body.options(principal.ActorID)
		if perr != nil {
			return nil, perr
		}
		a, err := e.CreateAuction(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &auctionOutput{Body: auctionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-auctions",
		Method:      http.MethodGet,
		Path:        "/auctions",
		Summary:     "List stored auctions by end time",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"scheduled,active,ended,settled"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body auctionList `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAuctions(ctx, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		resp := auctionList{Items: make([]AuctionResponse, 0, len(items))}
		for _, a := range items {
			resp.Items = append(resp.Items, auctionResponse(a))
		}
		return &struct {
			Body auctionList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-auction",
		Method:      http.MethodGet,
		Path:        "/auctions/{auction_id}",
		Summary:     "Live auction state",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *auctionPath) (*auctionOutput, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAuction(ctx, input.AuctionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &auctionOutput{Body: auctionResponse(a)}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-auction",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/start",
		Summary:     "Open a scheduled auction (seller or admin)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *auctionPath) (*auctionOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireSellerOrAdmin(ctx, e, input.AuctionID, principal); err != nil {
			return nil, err
		}
		if _, err := e.StartAuction(ctx, input.AuctionID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return liveAuction(ctx, e, input.AuctionID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-auction",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/cancel",
		Summary:     "Cancel an auction (seller or admin)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *auctionPath) (*auctionOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.CancelAuction(ctx, input.AuctionID, principal.ActorID, principal.IsAdmin()); err != nil {
			return nil, handleError(err)
		}
		return liveAuction(ctx, e, input.AuctionID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-auction",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/expire",
		Summary:     "Close an auction whose end time has passed (admin)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *auctionPath) (*auctionOutput, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.ExpireAuction(ctx, input.AuctionID); err != nil {
			return nil, handleError(err)
		}
		return liveAuction(ctx, e, input.AuctionID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "settle-auction",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/settle",
		Summary:     "Hand an ended auction off to payment (admin)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *auctionPath) (*struct {
		Body SettlementResponse `json:"body"`
	}, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.SettleAuction(ctx, input.AuctionID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettlementResponse `json:"body"`
		}{Body: settlementResponse(st)}, nil
	})
}

func registerBids(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-bid",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/bids",
		Summary:     "Submit a bid as the caller",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AuctionID string     `path:"auction_id"`
		Body      BidRequest `json:"body"`
	}) (*struct {
		Body BidResultResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, perr := parseMoney("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		res, err := e.SubmitBid(ctx, engine.BidRequest{AuctionID: input.AuctionID, BidderID: principal.ActorID, Amount: amount})
		if err != nil {
			return nil, bidError(err, res)
		}
		return &struct {
			Body BidResultResponse `json:"body"`
		}{Body: bidResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/auctions/{auction_id}/bids",
		Summary:     "Bid ledger in commit order, rejected bids included",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *auctionPath) (*struct {
		Body bidList `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		bids, err := e.Ledger(ctx, input.AuctionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body bidList `json:"body"`
		}{Body: bidList{Items: mapBids(bids)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-bid",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/bids/{bid_id}/cancel",
		Summary:     "Flag a bid as cancelled for audit (admin); price is unchanged",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AuctionID string `path:"auction_id"`
		BidID     string `path:"bid_id"`
	}) (*struct {
		Body BidResponse `json:"body"`
	}, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bid, err := e.SoftCancelBid(ctx, input.AuctionID, input.BidID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResponse `json:"body"`
		}{Body: bidResponse(bid)}, nil
	})
}

type proxyOutput struct {
	Body ProxyAgentResponse `json:"body"`
}

func registerProxy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-proxy",
		Method:      http.MethodPut,
		Path:        "/auctions/{auction_id}/proxy",
		Summary:     "Register the caller's proxy agent",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AuctionID string          `path:"auction_id"`
		Body      SetProxyRequest `json:"body"`
	}) (*proxyOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, perr := input.Body.request(principal.ActorID)
		if perr != nil {
			return nil, perr
		}
		res, err := e.SetProxyAgent(ctx, input.AuctionID, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &proxyOutput{Body: proxyAgentResponse(res.Agent)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-proxy",
		Method:      http.MethodPatch,
		Path:        "/auctions/{auction_id}/proxy",
		Summary:     "Change the caller's proxy agent",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AuctionID string             `path:"auction_id"`
		Body      UpdateProxyRequest `json:"body"`
	}) (*proxyOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		upd, perr := input.Body.update(principal.ActorID)
		if perr != nil {
			return nil, perr
		}
		res, err := e.UpdateProxyAgent(ctx, input.AuctionID, upd)
		if err != nil {
			return nil, handleError(err)
		}
		return &proxyOutput{Body: proxyAgentResponse(res.Agent)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-proxy",
		Method:      http.MethodDelete,
		Path:        "/auctions/{auction_id}/proxy",
		Summary:     "Deactivate the caller's proxy agent",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *auctionPath) (*proxyOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CancelProxyAgent(ctx, input.AuctionID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &proxyOutput{Body: proxyAgentResponse(res.Agent)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proxy",
		Method:      http.MethodGet,
		Path:        "/auctions/{auction_id}/proxy",
		Summary:     "The caller's active proxy agent",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *auctionPath) (*proxyOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agents, err := e.ProxyAgents(ctx, input.AuctionID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, p := range agents {
			if p.Active && p.BidderID == principal.ActorID {
				return &proxyOutput{Body: proxyAgentResponse(p)}, nil
			}
		}
		return nil, handleError(&auction.Error{Code: auction.CodeProxyAgentNotFound, Message: "no active proxy agent"})
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		AuctionID string `query:"auction_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.AuctionID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// bidError renders a rejected bid with the live price alongside the reason.
func bidError(err error, res engine.BidResult) huma.StatusError {
	se := handleError(err)
	ae, ok := se.(*apiError)
	if !ok || res.Reason == "" || res.Status == "" {
		return se
	}
	if ae.Body.Details == nil {
		ae.Body.Details = map[string]any{}
	}
	ae.Body.Details["current_price"] = res.CurrentPrice.String()
	ae.Body.Details["status"] = string(res.Status)
	if res.Bid.ID != "" {
		ae.Body.Details["bid_id"] = res.Bid.ID
	}
	return ae
}

func requireSellerOrAdmin(ctx context.Context, e engine.Engine, auctionID string, p Principal) huma.StatusError {
	if p.IsAdmin() {
		return nil
	}
	a, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return handleError(err)
	}
	if a.SellerID != p.ActorID {
		return newAPIError(http.StatusForbidden, "forbidden", "only the seller or an admin may do this", nil)
	}
	return nil
}

func liveAuction(ctx context.Context, e engine.Engine, auctionID string) (*auctionOutput, error) {
	a, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, handleError(err)
	}
	return &auctionOutput{Body: auctionResponse(a)}, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
