package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// IngestRepository bulk-loads history and the product master over a plain database/sql handle.
type IngestRepository struct {
	db *sql.DB
}

func NewIngestRepository(db *sql.DB) *IngestRepository {
	return &IngestRepository{db: db}
}

// InsertHistoryBatch inserts records in one transaction. Rows that already exist for
// (product, store, date) are skipped; the returned count covers new rows only.
func (r *IngestRepository) InsertHistoryBatch(ctx context.Context, records []domain.TimeSeriesRecord) (int64, error) {
	query := `
		INSERT INTO sales_history (
			product_id, store_id, date, units_sold, inventory_level, demand_forecast,
			price, discount, weather_condition, seasonality, category, region, uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (product_id, store_id, date) DO NOTHING
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx,
			rec.ProductID,
			rec.StoreID,
			rec.Date,
			rec.UnitsSold,
			rec.InventoryLevel,
			rec.DemandForecast,
			rec.Price,
			rec.Discount,
			rec.WeatherCondition,
			rec.Seasonality,
			rec.Category,
			rec.Region,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert history row %s/%s %s: %w",
				rec.ProductID, rec.StoreID, rec.Date.Format(domain.DateLayout), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history batch: %w", err)
	}
	return inserted, nil
}

// UpsertProducts writes the product master, replacing existing rows.
func (r *IngestRepository) UpsertProducts(ctx context.Context, products []domain.Product) error {
	query := `
		INSERT INTO products (product_id, store_id, category, region, current_inventory, price, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (product_id, store_id)
		DO UPDATE SET
			category = EXCLUDED.category,
			region = EXCLUDED.region,
			current_inventory = EXCLUDED.current_inventory,
			price = EXCLUDED.price,
			last_updated = NOW()
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range products {
		if _, err := tx.ExecContext(ctx, query,
			p.ProductID,
			p.StoreID,
			p.Category,
			p.Region,
			p.CurrentInventory,
			p.Price,
		); err != nil {
			return fmt.Errorf("failed to upsert product %s/%s: %w", p.ProductID, p.StoreID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit products: %w", err)
	}
	return nil
}

// Distribution counts products per category and per region.
func (r *IngestRepository) Distribution(ctx context.Context) (*domain.ProductDistribution, error) {
	out := &domain.ProductDistribution{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&out.Total); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	var err error
	if out.Categories, err = r.buckets(ctx, "category"); err != nil {
		return nil, err
	}
	if out.Regions, err = r.buckets(ctx, "region"); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *IngestRepository) buckets(ctx context.Context, column string) ([]domain.DistributionBucket, error) {
	// column is one of two fixed identifiers, never user input
	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM products GROUP BY %[1]s ORDER BY %[1]s`, column)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s distribution: %w", column, err)
	}
	defer rows.Close()

	var out []domain.DistributionBucket
	for rows.Next() {
		var b domain.DistributionBucket
		if err := rows.Scan(&b.Name, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s distribution: %w", column, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
