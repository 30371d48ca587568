package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"bidline/internal/domain"
)

const agentColumns = `id,auction_id,bidder_id,ceiling,increment,strategy,bids_placed,active,exhausted,seq,created_at,updated_at`

func (r Repo) UpsertProxyAgent(ctx context.Context, tx *sql.Tx, p domain.ProxyAgent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proxy_agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET ceiling=excluded.ceiling, increment=excluded.increment, strategy=excluded.strategy,
  bids_placed=excluded.bids_placed, active=excluded.active, exhausted=excluded.exhausted, updated_at=excluded.updated_at`,
		p.ID, p.AuctionID, p.BidderID, p.Ceiling.String(), nullableDecimal(p.Increment), string(p.Strategy), p.BidsPlaced,
		boolInt(p.Active), boolInt(p.Exhausted), p.Seq, formatTS(p.CreatedAt), formatTS(p.UpdatedAt))
	return err
}

// ListProxyAgents returns every agent of the auction, cancelled ones included,
// in creation order.
func (r Repo) ListProxyAgents(ctx context.Context, auctionID string) ([]domain.ProxyAgent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM proxy_agents WHERE auction_id=? ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProxyAgent
	for rows.Next() {
		var (
			p                 domain.ProxyAgent
			increment         decimal.NullDecimal
			strategy          string
			active, exhausted int
			created, updated  string
		)
		if err := rows.Scan(&p.ID, &p.AuctionID, &p.BidderID, &p.Ceiling, &increment, &strategy, &p.BidsPlaced,
			&active, &exhausted, &p.Seq, &created, &updated); err != nil {
			return nil, err
		}
		p.Increment = decimalPtr(increment)
		p.Strategy = domain.Strategy(strategy)
		p.Active = active == 1
		p.Exhausted = exhausted == 1
		if p.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTS(updated); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
