package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Fixed-width UTC timestamps keep lexical and chronological order identical.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(v string) (time.Time, error) {
	t, err := time.Parse(tsLayout, v)
	if err != nil {
		return time.Parse(time.RFC3339Nano, v)
	}
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTS(*v)
}

func decimalPtr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

const auctionColumns = `id,seller_id,title,starting_price,reserve_price,buy_now_price,min_increment,current_price,winner_id,winning_bid_id,bid_count,unique_bidders,start_time,end_time,auto_extend,extension_window_ms,extension_length_ms,extensions_used,max_extensions,status,end_reason,ended_at,created_at,updated_at,version`

func scanAuction(row rowScanner) (domain.Auction, error) {
	var (
		a                             domain.Auction
		reserve, buyNow               decimal.NullDecimal
		winner, winningBid, endReason sql.NullString
		endedAt                       sql.NullString
		start, end, created, updated  string
		autoExtend                    int
		windowMS, lengthMS            int64
		status                        string
	)
	err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.StartingPrice, &reserve, &buyNow, &a.MinIncrement, &a.CurrentPrice,
		&winner, &winningBid, &a.BidCount, &a.UniqueBidders, &start, &end, &autoExtend, &windowMS, &lengthMS,
		&a.ExtensionsUsed, &a.MaxExtensions, &status, &endReason, &endedAt, &created, &updated, &a.Version)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ReservePrice = decimalPtr(reserve)
	a.BuyNowPrice = decimalPtr(buyNow)
	a.WinnerID = winner.String
	a.WinningBidID = winningBid.String
	a.AutoExtend = autoExtend == 1
	a.ExtensionWindow = time.Duration(windowMS) * time.Millisecond
	a.ExtensionLength = time.Duration(lengthMS) * time.Millisecond
	a.Status = domain.AuctionStatus(status)
	a.EndReason = domain.EndReason(endReason.String)
	for _, f := range []struct {
		src string
		dst *time.Time
	}{{start, &a.StartTime}, {end, &a.EndTime}, {created, &a.CreatedAt}, {updated, &a.UpdatedAt}} {
		if *f.dst, err = parseTS(f.src); err != nil {
			return a, fmt.Errorf("auction %s: %w", a.ID, err)
		}
	}
	if endedAt.Valid {
		t, err := parseTS(endedAt.String)
		if err != nil {
			return a, fmt.Errorf("auction %s: %w", a.ID, err)
		}
		a.EndedAt = &t
	}
	return a, nil
}

func auctionArgs(a domain.Auction) []any {
	return []any{
		a.ID, a.SellerID, a.Title, a.StartingPrice.String(), nullableDecimal(a.ReservePrice), nullableDecimal(a.BuyNowPrice),
		a.MinIncrement.String(), a.CurrentPrice.String(), nullable(a.WinnerID), nullable(a.WinningBidID), a.BidCount, a.UniqueBidders,
		formatTS(a.StartTime), formatTS(a.EndTime), boolInt(a.AutoExtend), a.ExtensionWindow.Milliseconds(), a.ExtensionLength.Milliseconds(),
		a.ExtensionsUsed, a.MaxExtensions, string(a.Status), nullable(string(a.EndReason)), nullableTS(a.EndedAt),
		formatTS(a.CreatedAt), formatTS(a.UpdatedAt), a.Version,
	}
}

func (r Repo) InsertAuction(ctx context.Context, tx *sql.Tx, a domain.Auction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO auctions(`+auctionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, auctionArgs(a)...)
	return err
}

// UpsertAuction writes the full auction row.
func (r Repo) UpsertAuction(ctx context.Context, tx *sql.Tx, a domain.Auction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO auctions(`+auctionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  current_price=excluded.current_price, winner_id=excluded.winner_id, winning_bid_id=excluded.winning_bid_id,
  bid_count=excluded.bid_count, unique_bidders=excluded.unique_bidders, end_time=excluded.end_time,
  extensions_used=excluded.extensions_used, status=excluded.status, end_reason=excluded.end_reason,
  ended_at=excluded.ended_at, updated_at=excluded.updated_at, version=excluded.version`, auctionArgs(a)...)
	return err
}

func (r Repo) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	return scanAuction(r.DB.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id=?`, id))
}

// ListAuctions returns auctions ordered by end time, optionally filtered by status.
func (r Repo) ListAuctions(ctx context.Context, status string, limit int) ([]domain.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE `+strings.Join(clauses, " AND ")+` ORDER BY end_time ASC, id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Due is an auction whose stored schedule says it should change state.
type Due struct {
	ID     string
	Status domain.AuctionStatus
	// Closing is set when the end time has passed.
	Closing bool
}

// DueAuctions lists scheduled auctions past their start time and open
// auctions past their end time. The in-memory state has the final word, since
// extensions may not be persisted yet.
func (r Repo) DueAuctions(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	if limit <= 0 {
		limit = 100
	}
	ts := formatTS(now)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status,end_time<=? FROM auctions
WHERE (status='scheduled' AND start_time<=?) OR (status IN ('scheduled','active') AND end_time<=?)
ORDER BY end_time ASC LIMIT ?`, ts, ts, ts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Due
	for rows.Next() {
		var d Due
		var status string
		var closing int
		if err := rows.Scan(&d.ID, &status, &closing); err != nil {
			return nil, err
		}
		d.Status = domain.AuctionStatus(status)
		d.Closing = closing == 1
		res = append(res, d)
	}
	return res, rows.Err()
}
