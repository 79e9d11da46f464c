// Package ingest parses the retail inventory CSV export into sales history and
// the per-SKU product master.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// Column defaults for blank categorical cells.
const (
	DefaultCategory    = "Other"
	DefaultRegion      = "Central"
	DefaultWeather     = "Clear"
	DefaultSeasonality = "Regular"
)

var requiredColumns = []string{"Date", "Store ID", "Product ID"}

var dateLayouts = []string{
	domain.DateLayout,
	"2006-01-02 15:04:05",
	"01/02/2006",
	time.RFC3339,
}

// row is one CSV line keyed by header name.
type row struct {
	Date             string   `mapstructure:"Date"`
	StoreID          string   `mapstructure:"Store ID"`
	ProductID        string   `mapstructure:"Product ID"`
	Category         string   `mapstructure:"Category"`
	Region           string   `mapstructure:"Region"`
	UnitsSold        *float64 `mapstructure:"Units Sold"`
	InventoryLevel   *float64 `mapstructure:"Inventory Level"`
	DemandForecast   *float64 `mapstructure:"Demand Forecast"`
	Price            *float64 `mapstructure:"Price"`
	Discount         *float64 `mapstructure:"Discount (%)"`
	WeatherCondition string   `mapstructure:"Weather Condition"`
	Seasonality      string   `mapstructure:"Seasonality"`
}

// Result is the outcome of parsing one file.
type Result struct {
	Records    []domain.TimeSeriesRecord
	Rows       int
	Duplicates int

	products map[domain.ItemKey]*domain.Product
	order    []domain.ItemKey
}

// Parse reads a CSV with a header row. Rows repeating a (product, store, date)
// key keep the first occurrence and are counted as duplicates.
func Parse(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// 1. Header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	for _, col := range requiredColumns {
		if !present[col] {
			return nil, fmt.Errorf("%w: missing required column %q", domain.ErrSchema, col)
		}
	}

	res := &Result{products: make(map[domain.ItemKey]*domain.Product)}
	seen := make(map[string]struct{})

	// 2. Rows
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		rec, err := decodeRow(header, record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		res.Rows++

		dedup := rec.ProductID + "|" + rec.StoreID + "|" + rec.Date.Format(domain.DateLayout)
		if _, dup := seen[dedup]; dup {
			res.Duplicates++
			continue
		}
		seen[dedup] = struct{}{}

		res.Records = append(res.Records, rec)
		res.observeProduct(rec)
	}

	log.Debug().Int("rows", res.Rows).Int("duplicates", res.Duplicates).Int("products", len(res.order)).Msg("Parsed history CSV")
	return res, nil
}

func decodeRow(header, record []string) (domain.TimeSeriesRecord, error) {
	// blank cells stay absent so pointer fields remain nil
	values := make(map[string]interface{}, len(header))
	for i, col := range header {
		if i >= len(record) {
			break
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			values[col] = v
		}
	}

	var r row
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &r,
	})
	if err != nil {
		return domain.TimeSeriesRecord{}, err
	}
	if err := decoder.Decode(values); err != nil {
		return domain.TimeSeriesRecord{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	date, err := parseDate(r.Date)
	if err != nil {
		return domain.TimeSeriesRecord{}, err
	}
	if r.ProductID == "" || r.StoreID == "" {
		return domain.TimeSeriesRecord{}, fmt.Errorf("%w: Product ID and Store ID are required", domain.ErrValidation)
	}

	rec := domain.TimeSeriesRecord{
		ProductID:        domain.NormalizeID(r.ProductID),
		StoreID:          domain.NormalizeID(r.StoreID),
		Date:             date,
		UnitsSold:        orZero(r.UnitsSold),
		InventoryLevel:   orZero(r.InventoryLevel),
		Price:            orZero(r.Price),
		Discount:         orZero(r.Discount),
		DemandForecast:   r.DemandForecast,
		Category:         orDefault(r.Category, DefaultCategory),
		Region:           orDefault(r.Region, DefaultRegion),
		WeatherCondition: orDefault(r.WeatherCondition, DefaultWeather),
		Seasonality:      orDefault(r.Seasonality, DefaultSeasonality),
	}
	if err := rec.Validate(); err != nil {
		return domain.TimeSeriesRecord{}, err
	}
	return rec, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", domain.ErrValidation, s)
}

func orZero(v *float64) *float64 {
	if v == nil {
		return domain.Float(0)
	}
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// observeProduct keeps the first category and region seen for a SKU and the
// last inventory level and price.
func (res *Result) observeProduct(rec domain.TimeSeriesRecord) {
	key := domain.ItemKey{ProductID: rec.ProductID, StoreID: rec.StoreID}
	p, ok := res.products[key]
	if !ok {
		p = &domain.Product{
			ProductID: rec.ProductID,
			StoreID:   rec.StoreID,
			Category:  rec.Category,
			Region:    rec.Region,
		}
		res.products[key] = p
		res.order = append(res.order, key)
	}
	p.CurrentInventory = *rec.InventoryLevel
	p.Price = *rec.Price
}

// Products returns one row per SKU in first-seen order.
func (res *Result) Products() []domain.Product {
	out := make([]domain.Product, len(res.order))
	for i, key := range res.order {
		out[i] = *res.products[key]
	}
	return out
}

// Batches splits records into chunks of at most size.
func Batches(records []domain.TimeSeriesRecord, size int) [][]domain.TimeSeriesRecord {
	if size <= 0 {
		size = len(records)
	}
	var out [][]domain.TimeSeriesRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}
