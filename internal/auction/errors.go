package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Code identifies a rejection reason. Codes are stable and appear in the ledger
// and in API responses.
type Code string

const (
	CodeAuctionNotFound       Code = "auction_not_found"
	CodeAuctionNotActive      Code = "auction_not_active"
	CodeAuctionEnded          Code = "auction_ended"
	CodeSelfBid               Code = "self_bid"
	CodeBidTooLow             Code = "bid_too_low"
	CodeProxyCeilingTooLow    Code = "proxy_ceiling_too_low"
	CodeDuplicateProxyAgent   Code = "duplicate_proxy_agent"
	CodeConcurrentBidConflict Code = "concurrent_bid_conflict"
	CodeInvalidAmount         Code = "invalid_amount"
	CodeInvalidTransition     Code = "invalid_transition"
	CodeProxyAgentNotFound    Code = "proxy_agent_not_found"
	CodeBidNotFound           Code = "bid_not_found"
)

// Error is a rejection raised by the auction engine.
type Error struct {
	Code    Code
	Message string
	// Minimum is set for CodeBidTooLow.
	Minimum *decimal.Decimal
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Is matches on Code so that errors.Is(err, ErrBidTooLow) works for any minimum.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrAuctionNotFound       = &Error{Code: CodeAuctionNotFound}
	ErrAuctionNotActive      = &Error{Code: CodeAuctionNotActive}
	ErrAuctionEnded          = &Error{Code: CodeAuctionEnded}
	ErrSelfBid               = &Error{Code: CodeSelfBid}
	ErrBidTooLow             = &Error{Code: CodeBidTooLow}
	ErrProxyCeilingTooLow    = &Error{Code: CodeProxyCeilingTooLow}
	ErrDuplicateProxyAgent   = &Error{Code: CodeDuplicateProxyAgent}
	ErrConcurrentBidConflict = &Error{Code: CodeConcurrentBidConflict}
	ErrInvalidAmount         = &Error{Code: CodeInvalidAmount}
	ErrInvalidTransition     = &Error{Code: CodeInvalidTransition}
	ErrProxyAgentNotFound    = &Error{Code: CodeProxyAgentNotFound}
	ErrBidNotFound           = &Error{Code: CodeBidNotFound}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(auctionID string) *Error {
	return newError(CodeAuctionNotFound, "auction %s not found", auctionID)
}

func Conflict(auctionID string) *Error {
	return newError(CodeConcurrentBidConflict, "auction %s is busy; retry", auctionID)
}

func InvalidAmount(format string, args ...any) *Error {
	return newError(CodeInvalidAmount, format, args...)
}

func bidTooLow(minimum decimal.Decimal) *Error {
	m := minimum
	return &Error{
		Code:    CodeBidTooLow,
		Message: fmt.Sprintf("bid must be at least %s", minimum.String()),
		Minimum: &m,
	}
}

// IsRetryable reports whether err is transient. Only a lost race for the
// auction slot is retryable; every business rejection is terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentBidConflict)
}

// CodeOf extracts the rejection code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
