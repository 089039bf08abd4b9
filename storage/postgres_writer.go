package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"jersey-dashboard/models"
	"jersey-dashboard/utils"
)

const listingColumns = 4

// PostgresWriter mirrors the cleaned listings of the latest load into
// PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection, waits for the server using retry and
// ensures the schema exists.
func NewPostgresWriter(ctx context.Context, dsn string, retry *utils.RetryConfig) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := retry.Do(ctx, "postgres ping", func(ctx context.Context) error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jersey_listings (
			id          SERIAL PRIMARY KEY,
			brand       TEXT          NOT NULL,
			city        TEXT          NOT NULL,
			fit         TEXT          NOT NULL,
			list_price  NUMERIC(12,2) NOT NULL,
			created_at  TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_jersey_listings_brand ON jersey_listings(brand);
		CREATE INDEX IF NOT EXISTS idx_jersey_listings_city  ON jersey_listings(city);
		CREATE INDEX IF NOT EXISTS idx_jersey_listings_fit   ON jersey_listings(fit);
	`)
	return err
}

// Write replaces the table contents with listings inside one transaction.
func (pw *PostgresWriter) Write(listings []*models.Listing) error {
	ctx := context.Background()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "TRUNCATE jersey_listings RESTART IDENTITY"); err != nil {
		return fmt.Errorf("postgres: truncate: %w", err)
	}

	const batchSize = 500
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		query, args := insertBatchQuery(listings[i:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: insert batch at %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertBatchQuery(batch []*models.Listing) (string, []interface{}) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*listingColumns)

	for idx, l := range batch {
		base := idx * listingColumns
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, l.Brand, l.City, l.Fit, l.ListPrice)
	}

	query := "INSERT INTO jersey_listings (brand, city, fit, list_price) VALUES " +
		strings.Join(valueStrings, ",")
	return query, valueArgs
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
