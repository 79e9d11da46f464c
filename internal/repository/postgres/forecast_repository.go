package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository"
)

type forecastRepository struct {
	db *DB
}

func NewForecastRepository(db *DB) repository.ForecastRepository {
	return &forecastRepository{db: db}
}

// forecastRow mirrors the forecasts table.
type forecastRow struct {
	ID              int64           `db:"id"`
	ProductID       string          `db:"product_id"`
	StoreID         string          `db:"store_id"`
	ModelVersion    string          `db:"model_version"`
	ForecastStart   time.Time       `db:"forecast_start"`
	Series          []byte          `db:"series"`
	ConfidenceUpper []byte          `db:"confidence_upper"`
	ConfidenceLower []byte          `db:"confidence_lower"`
	SafetyStock     float64         `db:"safety_stock"`
	ReorderPoint    float64         `db:"reorder_point"`
	RiskLabel       string          `db:"risk_label"`
	DaysOfStock     sql.NullFloat64 `db:"days_of_stock"`
	NextOrderDate   sql.NullTime    `db:"next_order_date"`
	OrderQuantity   int64           `db:"order_quantity"`
	OrderCost       decimal.Decimal `db:"order_cost"`
	CreatedAt       time.Time       `db:"created_at"`
}

func (r *forecastRepository) SaveForecast(ctx context.Context, rec *domain.ForecastRecord) error {
	series, err := json.Marshal(rec.Forecast.Series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}
	upper, err := json.Marshal(rec.Forecast.ConfidenceUpper)
	if err != nil {
		return fmt.Errorf("failed to encode upper bound: %w", err)
	}
	lower, err := json.Marshal(rec.Forecast.ConfidenceLower)
	if err != nil {
		return fmt.Errorf("failed to encode lower bound: %w", err)
	}

	opt := rec.Optimization
	var days sql.NullFloat64
	if !opt.DaysOfStock.Unbounded {
		days = sql.NullFloat64{Float64: opt.DaysOfStock.Days, Valid: true}
	}
	var next sql.NullTime
	if opt.NextOrderDate != nil {
		next = sql.NullTime{Time: *opt.NextOrderDate, Valid: true}
	}

	query := `
		INSERT INTO forecasts (
			product_id, store_id, model_version, forecast_start, series,
			confidence_upper, confidence_lower, safety_stock, reorder_point,
			risk_label, days_of_stock, next_order_date, order_quantity, order_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, query,
			rec.ProductID,
			rec.StoreID,
			rec.ModelVersion,
			rec.ForecastStart,
			series,
			upper,
			lower,
			opt.SafetyStock,
			opt.ReorderPoint,
			string(opt.RiskLabel),
			days,
			next,
			opt.OrderRecommendation.Quantity,
			opt.OrderRecommendation.EstimatedCost,
		).Scan(&rec.ID, &rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert forecast %s/%s: %w", rec.ProductID, rec.StoreID, err)
		}
		return nil
	})
}

func (r *forecastRepository) LatestForecast(ctx context.Context, key domain.ItemKey) (*domain.ForecastRecord, error) {
	query := `
		SELECT id, product_id, store_id, model_version, forecast_start, series,
			confidence_upper, confidence_lower, safety_stock, reorder_point, risk_label,
			days_of_stock, next_order_date, order_quantity, order_cost, created_at
		FROM forecasts
		WHERE product_id = $1 AND store_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var row forecastRow
	if err := r.db.GetContext(ctx, &row, query, key.ProductID, key.StoreID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting latest forecast: %w", err)
	}
	return row.toDomain()
}

func (r *forecastRepository) RiskSummary(ctx context.Context, filter repository.ForecastFilter) ([]domain.RiskSummary, error) {
	var args []interface{}
	var conditions []string
	argCounter := 1

	if len(filter.StoreIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("f.store_id = ANY($%d::text[])", argCounter))
		args = append(args, pq.Array(filter.StoreIDs))
		argCounter++
	}

	if len(filter.Categories) > 0 {
		conditions = append(conditions, fmt.Sprintf("p.category = ANY($%d::text[])", argCounter))
		args = append(args, pq.Array(filter.Categories))
		argCounter++
	}

	if len(filter.Regions) > 0 {
		conditions = append(conditions, fmt.Sprintf("p.region = ANY($%d::text[])", argCounter))
		args = append(args, pq.Array(filter.Regions))
		argCounter++
	}

	if len(filter.RiskLabels) > 0 {
		labels := make([]string, len(filter.RiskLabels))
		for i, l := range filter.RiskLabels {
			labels[i] = string(l)
		}
		conditions = append(conditions, fmt.Sprintf("f.risk_label = ANY($%d::text[])", argCounter))
		args = append(args, pq.Array(labels))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		WITH latest AS (
			SELECT DISTINCT ON (product_id, store_id) product_id, store_id, risk_label
			FROM forecasts
			ORDER BY product_id, store_id, created_at DESC, id DESC
		)
		SELECT f.risk_label, COUNT(*) AS count
		FROM latest f
		LEFT JOIN products p ON p.product_id = f.product_id AND p.store_id = f.store_id
		%s
		GROUP BY f.risk_label
		ORDER BY f.risk_label
	`, where)

	var out []domain.RiskSummary
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("error getting risk summary: %w", err)
	}
	return out, nil
}

func (row forecastRow) toDomain() (*domain.ForecastRecord, error) {
	rec := &domain.ForecastRecord{
		ID:            row.ID,
		ProductID:     row.ProductID,
		StoreID:       row.StoreID,
		ModelVersion:  row.ModelVersion,
		ForecastStart: row.ForecastStart,
		CreatedAt:     row.CreatedAt,
	}

	if err := json.Unmarshal(row.Series, &rec.Forecast.Series); err != nil {
		return nil, fmt.Errorf("failed to decode series: %w", err)
	}
	if err := json.Unmarshal(row.ConfidenceUpper, &rec.Forecast.ConfidenceUpper); err != nil {
		return nil, fmt.Errorf("failed to decode upper bound: %w", err)
	}
	if err := json.Unmarshal(row.ConfidenceLower, &rec.Forecast.ConfidenceLower); err != nil {
		return nil, fmt.Errorf("failed to decode lower bound: %w", err)
	}
	rec.Forecast.Dates = make([]time.Time, len(rec.Forecast.Series))
	for i := range rec.Forecast.Dates {
		rec.Forecast.Dates[i] = row.ForecastStart.AddDate(0, 0, i)
	}

	label, ok := domain.ParseRiskLabel(row.RiskLabel)
	if !ok {
		return nil, fmt.Errorf("unknown risk label %q on forecast %d", row.RiskLabel, row.ID)
	}

	rec.Optimization = domain.OptimizationResult{
		SafetyStock:  row.SafetyStock,
		ReorderPoint: row.ReorderPoint,
		RiskLabel:    label,
		DaysOfStock:  domain.UnboundedDays(),
		OrderRecommendation: domain.OrderRecommendation{
			ShouldOrder:   row.OrderQuantity > 0,
			Quantity:      row.OrderQuantity,
			EstimatedCost: row.OrderCost,
		},
	}
	if row.DaysOfStock.Valid {
		rec.Optimization.DaysOfStock = domain.DaysOfStock{Days: row.DaysOfStock.Float64}
	}
	if row.NextOrderDate.Valid {
		d := row.NextOrderDate.Time
		rec.Optimization.NextOrderDate = &d
	}
	return rec, nil
}
