package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"car-marketplace/internal/domain"
)

const listingColumns = `id, seller_id, vin, make, model, year, mileage, price, reserve_price, status, created_at, updated_at`

type MySQLListingRepository struct {
	db *sql.DB
}

func NewMySQLListingRepository(db *sql.DB) *MySQLListingRepository {
	return &MySQLListingRepository{db: db}
}

func (r *MySQLListingRepository) CreateListing(ctx context.Context, listing *domain.Listing) error {
	query := `
        INSERT INTO listings (` + listingColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		listing.ID, listing.SellerID, listing.VIN, listing.Make, listing.Model,
		listing.Year, listing.Mileage, listing.Price, listing.ReservePrice,
		string(listing.Status), listing.CreatedAt, listing.UpdatedAt)
	return err
}

func (r *MySQLListingRepository) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ?`

	listing, err := scanListing(r.db.QueryRowContext(ctx, query, listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrListingNotFound
	}
	return listing, err
}

func (r *MySQLListingRepository) UpdatePrice(ctx context.Context, listingID string, price float64, reservePrice int64) error {
	query := `UPDATE listings SET price = ?, reserve_price = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, price, reservePrice, time.Now(), listingID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *MySQLListingRepository) UpdateStatus(ctx context.Context, listingID string, status domain.ListingStatus) error {
	query := `UPDATE listings SET status = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, string(status), time.Now(), listingID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *MySQLListingRepository) ListByStatus(ctx context.Context, statuses ...domain.ListingStatus) ([]*domain.Listing, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := fmt.Sprintf(`SELECT %s FROM listings WHERE status IN (%s) ORDER BY created_at ASC`, listingColumns, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}

	return listings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var listing domain.Listing
	var status string

	err := row.Scan(&listing.ID, &listing.SellerID, &listing.VIN, &listing.Make, &listing.Model,
		&listing.Year, &listing.Mileage, &listing.Price, &listing.ReservePrice,
		&status, &listing.CreatedAt, &listing.UpdatedAt)
	if err != nil {
		return nil, err
	}

	listing.Status = domain.ListingStatus(status)
	return &listing, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}
