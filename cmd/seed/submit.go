package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository/postgres"
	"github.com/andresuchdata/demandcast/internal/scheduler"
)

type historyPayload struct {
	Date             string   `json:"date"`
	UnitsSold        *float64 `json:"units_sold"`
	InventoryLevel   *float64 `json:"inventory_level"`
	Price            *float64 `json:"price"`
	Discount         *float64 `json:"discount"`
	WeatherCondition string   `json:"weather_condition"`
	Seasonality      string   `json:"seasonality"`
	Category         string   `json:"category"`
	Region           string   `json:"region"`
}

type itemPayload struct {
	ProductID        string           `json:"product_id"`
	StoreID          string           `json:"store_id"`
	CurrentInventory float64          `json:"current_inventory"`
	HistoricalData   []historyPayload `json:"historical_data"`
}

type batchPayload struct {
	JobID string        `json:"job_id,omitempty"`
	Items []itemPayload `json:"items"`
}

type jobStatus struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	TotalProducts  int     `json:"total_products"`
	SucceededCount int     `json:"succeeded_count"`
	FailedCount    int     `json:"failed_count"`
}

func newBatchPayload(jobID string, items []domain.ItemRequest) batchPayload {
	payload := batchPayload{JobID: jobID, Items: make([]itemPayload, len(items))}
	for i, item := range items {
		rows := make([]historyPayload, len(item.History))
		for j, h := range item.History {
			rows[j] = historyPayload{
				Date:             h.Date.Format(domain.DateLayout),
				UnitsSold:        h.UnitsSold,
				InventoryLevel:   h.InventoryLevel,
				Price:            h.Price,
				Discount:         h.Discount,
				WeatherCondition: h.WeatherCondition,
				Seasonality:      h.Seasonality,
				Category:         h.Category,
				Region:           h.Region,
			}
		}
		payload.Items[i] = itemPayload{
			ProductID:        item.ProductID,
			StoreID:          item.StoreID,
			CurrentInventory: item.CurrentInventory,
			HistoricalData:   rows,
		}
	}
	return payload
}

func runSubmit(c *cli.Context) error {
	sqlDB, err := dbFrom(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	// 1. Build items from stored history
	db := postgres.NewDBFromSQL(sqlDB, "pgx", 4)
	source := scheduler.NewRepositorySource(postgres.NewHistoryRepository(db), c.Int("history-days"), 4)
	items, err := source.Items(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no stored history to forecast")
	}

	// 2. Submit
	baseURL := strings.TrimSuffix(c.String("server-url"), "/")
	client := &http.Client{Timeout: 60 * time.Second}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	body, err := json.Marshal(newBatchPayload(c.String("job-id"), items))
	if err != nil {
		return err
	}
	if err := doJSON(ctx, client, http.MethodPost, baseURL+"/api/v1/forecast/batch", body, http.StatusAccepted, &accepted); err != nil {
		return err
	}
	log.Info().Str("job_id", accepted.JobID).Int("items", len(items)).Msg("Batch submitted")

	if !c.Bool("wait") {
		fmt.Fprintln(c.App.Writer, accepted.JobID)
		return nil
	}

	// 3. Poll
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		var status jobStatus
		if err := doJSON(ctx, client, http.MethodGet, baseURL+"/api/v1/forecast/batch/"+accepted.JobID, nil, http.StatusOK, &status); err != nil {
			return err
		}
		log.Info().Str("job_id", status.JobID).Str("status", status.Status).Float64("progress", status.Progress).Msg("Batch progress")

		if domain.JobState(status.Status).Terminal() {
			fmt.Fprintf(c.App.Writer, "%s %s succeeded=%d failed=%d\n",
				status.JobID, status.Status, status.SucceededCount, status.FailedCount)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body []byte, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Caller-ID", "seed")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
