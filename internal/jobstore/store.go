package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// DefaultTTL bounds how long job state is kept after the last write.
const DefaultTTL = 24 * time.Hour

// jobMeta is the JSON document stored under MetaKey.
type jobMeta struct {
	JobID          string          `json:"job_id"`
	State          domain.JobState `json:"state"`
	Total          int             `json:"total"`
	CancelledCount int             `json:"cancelled_count"`
	ItemIDs        []string        `json:"item_ids"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func metaFromJob(job *domain.BatchJob) jobMeta {
	ids := make([]string, len(job.Items))
	for i, it := range job.Items {
		ids[i] = it.ItemID
	}
	return jobMeta{
		JobID:          job.JobID,
		State:          job.State,
		Total:          job.Total,
		CancelledCount: job.CancelledCount,
		ItemIDs:        ids,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// Store persists batch job state in a KV. Counters are incremented atomically
// together with the item they count, and the terminal state is written in the
// same transaction as the final counters.
type Store struct {
	kv       KV
	ttl      time.Duration
	retryCfg RetryConfig
}

// NewStore wraps kv. A non-positive ttl uses DefaultTTL.
func NewStore(kv KV, ttl time.Duration, retry RetryConfig) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, retryCfg: retry.withDefaults()}
}

// TTL is the expiry applied to every job key.
func (s *Store) TTL() time.Duration { return s.ttl }

// Ping reports whether the backing KV is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// CreateJob writes a CREATED job with zeroed counters, replacing any expired or terminal run of the same id.
func (s *Store) CreateJob(ctx context.Context, job *domain.BatchJob) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}

	meta, err := json.Marshal(metaFromJob(job))
	if err != nil {
		return fmt.Errorf("encode job meta: %w", err)
	}

	id := job.JobID
	markers := make([]string, len(job.Items))
	for i := range job.Items {
		markers[i] = RecordedKey(id, i)
	}
	err = s.kv.Tx(ctx, func(p Pipe) {
		p.Del(ItemsKey(id))
		p.Del(markers...)
		p.Set(MetaKey(id), meta, s.ttl)
		p.Set(SucceededKey(id), []byte("0"), s.ttl)
		p.Set(FailedKey(id), []byte("0"), s.ttl)
	})
	if err != nil {
		return fmt.Errorf("%w: create job %s: %v", domain.ErrStoreUnavailable, id, err)
	}
	return nil
}

// SaveMeta rewrites job metadata, e.g. on the transition to RUNNING.
func (s *Store) SaveMeta(ctx context.Context, job *domain.BatchJob) error {
	meta, err := json.Marshal(metaFromJob(job))
	if err != nil {
		return fmt.Errorf("encode job meta: %w", err)
	}
	return s.retry(ctx, "save meta", func() error {
		return s.kv.Set(ctx, MetaKey(job.JobID), meta, s.ttl)
	})
}

// RecordItem counts a settled item and appends its status in one transaction.
// The transaction also writes a marker keyed by the item's index, so recording
// the same item again, including a retry after a lost reply, changes nothing.
func (s *Store) RecordItem(ctx context.Context, jobID string, item domain.JobItemStatus) error {
	if !item.State.Terminal() {
		return fmt.Errorf("%w: item %s is %s, not terminal", domain.ErrValidation, item.ItemID, item.State)
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item status: %w", err)
	}

	counter := SucceededKey(jobID)
	if item.State == domain.ItemFailed {
		counter = FailedKey(jobID)
	}

	marker := RecordedKey(jobID, item.Index)

	return s.retry(ctx, "record item", func() error {
		_, recorded, err := s.kv.Get(ctx, marker)
		if err != nil {
			return err
		}
		if recorded {
			return nil
		}
		return s.kv.Tx(ctx, func(p Pipe) {
			p.Set(marker, []byte(item.State), s.ttl)
			p.Incr(counter)
			p.Append(ItemsKey(jobID), payload)
			p.Expire(counter, s.ttl)
			p.Expire(ItemsKey(jobID), s.ttl)
		})
	})
}

// Finalize writes the authoritative counters, the ordered item list and the
// terminal state atomically. Readers never observe a terminal state with stale counters.
func (s *Store) Finalize(ctx context.Context, job *domain.BatchJob) error {
	if !job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s, not terminal", domain.ErrValidation, job.JobID, job.State)
	}

	meta, err := json.Marshal(metaFromJob(job))
	if err != nil {
		return fmt.Errorf("encode job meta: %w", err)
	}
	items := make([][]byte, len(job.Items))
	for i, it := range job.Items {
		if items[i], err = json.Marshal(it); err != nil {
			return fmt.Errorf("encode item status: %w", err)
		}
	}

	id := job.JobID
	return s.retry(ctx, "finalize", func() error {
		return s.kv.Tx(ctx, func(p Pipe) {
			p.Del(ItemsKey(id))
			for _, it := range items {
				p.Append(ItemsKey(id), it)
			}
			p.Set(SucceededKey(id), []byte(strconv.Itoa(job.SucceededCount)), s.ttl)
			p.Set(FailedKey(id), []byte(strconv.Itoa(job.FailedCount)), s.ttl)
			p.Set(MetaKey(id), meta, s.ttl)
			p.Expire(ItemsKey(id), s.ttl)
		})
	})
}

// Get returns the job with live counters. Items are included only once the job is terminal.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	vals, err := s.kv.MGet(ctx, MetaKey(jobID), SucceededKey(jobID), FailedKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if vals[0] == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}

	var meta jobMeta
	if err := json.Unmarshal(vals[0], &meta); err != nil {
		return nil, fmt.Errorf("decode job meta %s: %w", jobID, err)
	}

	job := &domain.BatchJob{
		JobID:          meta.JobID,
		State:          meta.State,
		Total:          meta.Total,
		CancelledCount: meta.CancelledCount,
		SucceededCount: parseCount(vals[1]),
		FailedCount:    parseCount(vals[2]),
		CreatedAt:      meta.CreatedAt,
		UpdatedAt:      meta.UpdatedAt,
	}

	if !job.State.Terminal() {
		return job, nil
	}

	raw, err := s.kv.Range(ctx, ItemsKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	job.Items = make([]domain.JobItemStatus, 0, len(raw))
	for _, r := range raw {
		var it domain.JobItemStatus
		if err := json.Unmarshal(r, &it); err != nil {
			return nil, fmt.Errorf("decode item status %s: %w", jobID, err)
		}
		job.Items = append(job.Items, it)
	}
	return job, nil
}

// State returns the stored state of a job, or false when no job exists.
func (s *Store) State(ctx context.Context, jobID string) (domain.JobState, bool, error) {
	raw, ok, err := s.kv.Get(ctx, MetaKey(jobID))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", false, nil
	}
	var meta jobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", false, fmt.Errorf("decode job meta %s: %w", jobID, err)
	}
	return meta.State, true, nil
}

// Expire resets the TTL on every key of a job.
func (s *Store) Expire(ctx context.Context, jobID string, ttl time.Duration) error {
	return s.retry(ctx, "expire", func() error {
		return s.kv.Tx(ctx, func(p Pipe) {
			for _, k := range jobKeys(jobID) {
				p.Expire(k, ttl)
			}
		})
	})
}

func parseCount(b []byte) int {
	if b == nil {
		return 0
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0
	}
	return n
}
