package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type messageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes one JSON message per event, keyed by the phone hash so
// events for a phone stay ordered within a partition.
type KafkaSink struct {
	producer messageProducer
	topic    string
}

func NewKafkaSink(producer messageProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	var errs []error
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode event: %w", err))
			continue
		}
		headers := map[string]string{"event_type": string(e.Type)}
		if err := s.producer.ProduceMessage(ctx, s.topic, []byte(e.PhoneHash), value, headers); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type batchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

const (
	clickhouseSchema = `CREATE TABLE IF NOT EXISTS otp_events (
	id UUID,
	type LowCardinality(String),
	provider LowCardinality(String),
	purpose LowCardinality(String),
	phone_hash String,
	phone_masked String,
	error_kind LowCardinality(String),
	occurred_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (occurred_at, type)
TTL toDateTime(occurred_at) + INTERVAL 90 DAY`

	clickhouseInsert = `INSERT INTO otp_events (id, type, provider, purpose, phone_hash, phone_masked, error_kind, occurred_at)`
)

type ClickHouseSink struct {
	conn batchInserter
}

func NewClickHouseSink(conn batchInserter) *ClickHouseSink {
	return &ClickHouseSink{conn: conn}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, clickhouseSchema); err != nil {
		return fmt.Errorf("failed to create otp_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(ctx context.Context, events []Event) error {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.ID,
			string(e.Type),
			e.Provider,
			e.Purpose,
			e.PhoneHash,
			e.PhoneMasked,
			e.ErrorKind,
			e.OccurredAt,
		})
	}
	if err := s.conn.BatchInsert(ctx, clickhouseInsert, rows); err != nil {
		return fmt.Errorf("failed to insert otp events: %w", err)
	}
	return nil
}

type documentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

type ElasticsearchSink struct {
	indexer documentIndexer
	index   string
}

func NewElasticsearchSink(indexer documentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, events []Event) error {
	var errs []error
	for _, e := range events {
		if err := s.indexer.IndexDocument(ctx, s.index, e.ID.String(), e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
