package auction

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"bidline/internal/domain"
)

func listing() Listing {
	return Listing{
		ID:            "auc-9",
		SellerID:      "seller",
		Title:         "Lamp",
		StartingPrice: d("100"),
		MinIncrement:  d("5"),
		StartTime:     t0.Add(time.Hour),
		EndTime:       t0.Add(25 * time.Hour),
	}
}

func TestNewAuction(t *testing.T) {
	a, err := NewAuction(listing(), t0)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusScheduled, a.Status)
	check.Equal(t, "100", a.CurrentPrice.String())
	check.Equal(t, "", a.WinnerID)

	l := listing()
	l.StartTime = time.Time{}
	a, err = NewAuction(l, t0)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusActive, a.Status)
	check.Equal(t, t0, a.StartTime)
}

func TestNewAuctionRejectsBadListings(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Listing)
		code Code
	}{
		{"zero increment", func(l *Listing) { l.MinIncrement = d("0") }, CodeInvalidAmount},
		{"negative start", func(l *Listing) { l.StartingPrice = d("-1") }, CodeInvalidAmount},
		{"buy-now under start", func(l *Listing) { l.BuyNowPrice = dp("50") }, CodeInvalidAmount},
		{"end before start", func(l *Listing) { l.EndTime = l.StartTime }, ""},
		{"extension without window", func(l *Listing) { l.AutoExtend = true; l.ExtensionLength = time.Minute }, ""},
		{"missing seller", func(l *Listing) { l.SellerID = " " }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := listing()
			tc.mod(&l)
			_, err := NewAuction(l, t0)
			assert.Error(t, err)
			check.Equal(t, tc.code, CodeOf(err))
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	a, err := NewAuction(listing(), t0)
	assert.NoError(t, err)
	s := newTestState(a)

	_, err = s.Submit("alice", d("105"), t0)
	check.True(t, errors.Is(err, ErrAuctionNotActive))

	assert.NoError(t, s.Start("scheduler", t0.Add(time.Hour)))
	check.True(t, errors.Is(s.Start("scheduler", t0.Add(time.Hour)), ErrInvalidTransition))

	_, err = s.Settle("payments", t0)
	check.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = s.Submit("alice", d("105"), t0.Add(2*time.Hour))
	assert.NoError(t, err)

	check.False(t, s.Expire(t0.Add(24*time.Hour)))
	check.True(t, s.Expire(t0.Add(25*time.Hour)))
	check.Equal(t, domain.StatusEnded, s.Auction.Status)
	check.Equal(t, domain.EndExpired, s.Auction.EndReason)
	check.False(t, s.Expire(t0.Add(26*time.Hour)))

	st, err := s.Settle("payments", t0.Add(26*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, "alice", st.WinnerID)
	check.Equal(t, "105", st.Amount.String())
	check.True(t, st.ReserveMet)
	check.Equal(t, domain.StatusSettled, s.Auction.Status)
}

func TestSettleWithUnmetReserve(t *testing.T) {
	s := newTestState(openAuction(func(a *domain.Auction) { a.ReservePrice = dp("2000") }))
	_, err := s.Submit("alice", d("1010"), t0)
	assert.NoError(t, err)
	check.False(t, s.Snapshot().ReserveMet)

	assert.NoError(t, s.Cancel("seller", t0))
	check.Equal(t, domain.EndCancelled, s.Auction.EndReason)
	check.True(t, errors.Is(s.Cancel("seller", t0), ErrInvalidTransition))

	st, err := s.Settle("payments", t0)
	assert.NoError(t, err)
	check.Equal(t, "", st.WinnerID)
	check.False(t, st.ReserveMet)
}

func TestStartAfterEndExpires(t *testing.T) {
	a, err := NewAuction(listing(), t0)
	assert.NoError(t, err)
	s := newTestState(a)
	assert.NoError(t, s.Start("scheduler", t0.Add(30*time.Hour)))
	check.Equal(t, domain.StatusEnded, s.Auction.Status)
	check.Equal(t, domain.EndExpired, s.Auction.EndReason)
}

func TestSoftCancelBid(t *testing.T) {
	s := newTestState(openAuction())
	res, err := s.Submit("alice", d("1010"), t0)
	assert.NoError(t, err)
	s.Drain()

	bid, err := s.SoftCancelBid(res.Bid.ID, "admin", t0)
	assert.NoError(t, err)
	check.True(t, bid.Cancelled)
	check.Equal(t, "1010", s.Auction.CurrentPrice.String())
	check.Equal(t, "alice", s.Auction.WinnerID)

	ch := s.Drain()
	assert.Equal(t, 1, len(ch.Bids))
	check.True(t, ch.Bids[0].Cancelled)
	assert.Equal(t, 1, len(ch.Events))
	check.Equal(t, EventBidCancelled, ch.Events[0].Type)

	_, err = s.SoftCancelBid("missing", "admin", t0)
	check.True(t, errors.Is(err, ErrBidNotFound))
}
