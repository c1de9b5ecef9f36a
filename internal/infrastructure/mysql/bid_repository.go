package mysql

import (
	"context"
	"database/sql"

	"car-marketplace/internal/domain"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

func (r *MySQLBidRepository) SaveBid(ctx context.Context, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, listing_id, dealer_id, amount, created_at)
        VALUES (?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		bid.ID, bid.ListingID, bid.DealerID, bid.Amount, bid.CreatedAt)
	return err
}

func (r *MySQLBidRepository) GetBidHistory(ctx context.Context, listingID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, listing_id, dealer_id, amount, created_at
        FROM bids
        WHERE listing_id = ?
        ORDER BY created_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var bid domain.Bid
		if err := rows.Scan(&bid.ID, &bid.ListingID, &bid.DealerID, &bid.Amount, &bid.CreatedAt); err != nil {
			return nil, err
		}
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}
