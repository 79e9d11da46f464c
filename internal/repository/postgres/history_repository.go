package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository"
)

type historyRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) repository.HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query := `
		SELECT product_id, store_id, category, region, current_inventory, price, last_updated
		FROM products
		ORDER BY product_id, store_id
	`

	var products []domain.Product
	if err := r.db.SelectContext(ctx, &products, query); err != nil {
		return nil, fmt.Errorf("error listing products: %w", err)
	}
	return products, nil
}

// LoadHistory returns the SKU's rows dated on or after since, oldest first.
func (r *historyRepository) LoadHistory(ctx context.Context, key domain.ItemKey, since time.Time) ([]domain.TimeSeriesRecord, error) {
	query := `
		SELECT product_id, store_id, date, units_sold, inventory_level, demand_forecast,
			price, discount, weather_condition, seasonality, category, region
		FROM sales_history
		WHERE product_id = $1 AND store_id = $2 AND date >= $3
		ORDER BY date
	`

	var records []domain.TimeSeriesRecord
	if err := r.db.SelectContext(ctx, &records, query, key.ProductID, key.StoreID, since); err != nil {
		return nil, fmt.Errorf("error loading history for %s: %w", key, err)
	}
	return records, nil
}
