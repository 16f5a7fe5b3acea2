package memory

import (
	"context"
	"sync"

	"otp-service/internal/bucketing"
	"otp-service/internal/models"
	"otp-service/internal/store"
)

type shard struct {
	mu       sync.Mutex
	records  map[string]models.OTPRecord
	counters map[string]*models.RateLimitCounter
}

// Store is a process-local store.Store. Keys are spread over shards by
// murmur3 so unrelated phones do not contend on one mutex; every operation
// on a key holds its shard lock for the full read-modify-write.
type Store struct {
	buckets *bucketing.BucketingManager
	shards  []*shard
}

func NewStore(buckets *bucketing.BucketingManager) *Store {
	shards := make([]*shard, buckets.Buckets())
	for i := range shards {
		shards[i] = &shard{
			records:  make(map[string]models.OTPRecord),
			counters: make(map[string]*models.RateLimitCounter),
		}
	}
	return &Store{buckets: buckets, shards: shards}
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[s.buckets.GetBucket(key)]
}

func (s *Store) GetRecord(_ context.Context, key string) (*models.OTPRecord, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) PutRecord(_ context.Context, key string, rec *models.OTPRecord) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.records[key] = *rec
	return nil
}

func (s *Store) DeleteRecord(_ context.Context, key string) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.records[key]
	delete(sh.records, key)
	return ok, nil
}

func (s *Store) MutateRecord(_ context.Context, key string, fn store.MutateFunc) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var current *models.OTPRecord
	if rec, ok := sh.records[key]; ok {
		current = &rec
	}

	action, err := fn(current)
	if err != nil {
		return err
	}

	switch action {
	case store.Save:
		if current != nil {
			sh.records[key] = *current
		}
	case store.Delete:
		delete(sh.records, key)
	}
	return nil
}

func (s *Store) ReserveSend(_ context.Context, phone string, limits models.RateLimits, nowMs int64) (*store.Reservation, error) {
	sh := s.shardFor(phone)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	counter, ok := sh.counters[phone]
	if !ok {
		counter = models.NewRateLimitCounter(nowMs)
		sh.counters[phone] = counter
	}
	return store.Reserve(counter, phone, limits, nowMs), nil
}

func (s *Store) ReleaseSend(_ context.Context, res *store.Reservation) error {
	if res == nil || !res.Allowed {
		return nil
	}

	sh := s.shardFor(res.Phone)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if counter, ok := sh.counters[res.Phone]; ok {
		store.Release(counter, res)
	}
	return nil
}

func (s *Store) Sweep(_ context.Context, nowMs int64) (store.SweepStats, error) {
	var stats store.SweepStats
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, rec := range sh.records {
			if rec.Stale(nowMs) {
				delete(sh.records, key)
				stats.Records++
			}
		}
		for phone, counter := range sh.counters {
			if counter.Elapsed(nowMs) {
				delete(sh.counters, phone)
				stats.Counters++
			}
		}
		sh.mu.Unlock()
	}
	return stats, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

var _ store.Store = (*Store)(nil)
