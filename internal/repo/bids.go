package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

const bidColumns = `id,auction_id,bidder_id,amount,origin,outcome,reject_reason,minimum_bid,winning,cancelled,seq,submitted_at`

// UpsertBid inserts a ledger entry or refreshes its mutable flags. Amount and
// outcome never change once written.
func (r Repo) UpsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bids(`+bidColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET winning=excluded.winning, cancelled=excluded.cancelled`,
		b.ID, b.AuctionID, b.BidderID, b.Amount.String(), string(b.Origin), string(b.Outcome), nullable(b.RejectReason),
		nullableDecimal(b.MinimumBid), boolInt(b.Winning), boolInt(b.Cancelled), b.Seq, formatTS(b.SubmittedAt))
	return err
}

// ListBids returns the auction's ledger in commit order.
func (r Repo) ListBids(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id=? ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		var (
			b                 domain.Bid
			origin, outcome   string
			reason, submitted sql.NullString
			minimum           decimal.NullDecimal
			winning, cancel   int
		)
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &origin, &outcome, &reason, &minimum,
			&winning, &cancel, &b.Seq, &submitted); err != nil {
			return nil, err
		}
		b.Origin = domain.BidOrigin(origin)
		b.Outcome = domain.BidOutcome(outcome)
		b.RejectReason = reason.String
		b.MinimumBid = decimalPtr(minimum)
		b.Winning = winning == 1
		b.Cancelled = cancel == 1
		if b.SubmittedAt, err = parseTS(submitted.String); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// WinningBid returns the bid flagged as winning, if any.
func (r Repo) WinningBid(ctx context.Context, auctionID string) (domain.Bid, error) {
	bids, err := r.ListBids(ctx, auctionID)
	if err != nil {
		return domain.Bid{}, err
	}
	for _, b := range bids {
		if b.Winning {
			return b, nil
		}
	}
	return domain.Bid{}, ErrNotFound
}
