// Package cache keeps short-lived copies of read-heavy forecast aggregates.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/jobstore"
	"github.com/andresuchdata/demandcast/internal/repository"
)

const (
	riskSummaryKeyPrefix  = "demandcast:risk_summary"
	riskSummaryGenKey     = riskSummaryKeyPrefix + ":gen"
	defaultRiskSummaryTTL = time.Minute
)

type RiskSummaryCache interface {
	GetSummary(ctx context.Context, filter repository.ForecastFilter) ([]domain.RiskSummary, bool, error)
	SetSummary(ctx context.Context, filter repository.ForecastFilter, summary []domain.RiskSummary) error
	// InvalidateAll makes every cached summary unreachable.
	InvalidateAll(ctx context.Context) error
}

// kvRiskSummaryCache stores summaries under a generation counter. Invalidation
// bumps the counter; stale entries age out through their TTL.
type kvRiskSummaryCache struct {
	kv  jobstore.KV
	ttl time.Duration
}

type noopRiskSummaryCache struct{}

func NewRiskSummaryCache(kv jobstore.KV, ttl time.Duration) RiskSummaryCache {
	if kv == nil {
		return &noopRiskSummaryCache{}
	}
	if ttl <= 0 {
		ttl = defaultRiskSummaryTTL
	}
	return &kvRiskSummaryCache{kv: kv, ttl: ttl}
}

func NewNoopRiskSummaryCache() RiskSummaryCache {
	return &noopRiskSummaryCache{}
}

func (c *kvRiskSummaryCache) generation(ctx context.Context) (string, error) {
	raw, ok, err := c.kv.Get(ctx, riskSummaryGenKey)
	if err != nil {
		return "", fmt.Errorf("read cache generation: %w", err)
	}
	if !ok {
		return "0", nil
	}
	return string(raw), nil
}

func (c *kvRiskSummaryCache) GetSummary(ctx context.Context, filter repository.ForecastFilter) ([]domain.RiskSummary, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, err
	}

	payload, ok, err := c.kv.Get(ctx, buildRiskSummaryKey(gen, filter))
	if err != nil {
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var summary []domain.RiskSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, false, fmt.Errorf("decode risk summary cache: %w", err)
	}

	return summary, true, nil
}

func (c *kvRiskSummaryCache) SetSummary(ctx context.Context, filter repository.ForecastFilter, summary []domain.RiskSummary) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode risk summary cache: %w", err)
	}

	if err := c.kv.Set(ctx, buildRiskSummaryKey(gen, filter), payload, c.ttl); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

func (c *kvRiskSummaryCache) InvalidateAll(ctx context.Context) error {
	if _, err := c.kv.Incr(ctx, riskSummaryGenKey); err != nil {
		return fmt.Errorf("cache invalidate failed: %w", err)
	}
	return nil
}

func (n *noopRiskSummaryCache) GetSummary(context.Context, repository.ForecastFilter) ([]domain.RiskSummary, bool, error) {
	return nil, false, nil
}

func (n *noopRiskSummaryCache) SetSummary(context.Context, repository.ForecastFilter, []domain.RiskSummary) error {
	return nil
}

func (n *noopRiskSummaryCache) InvalidateAll(context.Context) error {
	return nil
}

func buildRiskSummaryKey(gen string, filter repository.ForecastFilter) string {
	var parts []string
	add := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		parts = append(parts, name+"="+strings.Join(sorted, ","))
	}

	add("store", filter.StoreIDs)
	add("category", filter.Categories)
	add("region", filter.Regions)
	labels := make([]string, len(filter.RiskLabels))
	for i, l := range filter.RiskLabels {
		labels[i] = string(l)
	}
	add("risk", labels)

	if len(parts) == 0 {
		return fmt.Sprintf("%s:%s:default", riskSummaryKeyPrefix, gen)
	}

	raw := strings.Join(parts, "|")
	hash := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%s:%s", riskSummaryKeyPrefix, gen, hex.EncodeToString(hash[:]))
}

