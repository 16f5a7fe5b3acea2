package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

// ESClient writes audit documents. Documents are created, never updated:
// a retried event with a known id is treated as already stored.
type ESClient struct {
	Client *elasticsearch.Client
}

func NewElasticsearchClient(cfg config.ElasticsearchConfig, development bool) (*ESClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 10 * time.Second
	if development {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // self-signed dev clusters only
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		Transport:     transport,
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	util.Info("Elasticsearch client initialized",
		zap.String("url", cfg.URL),
		zap.String("index", cfg.Index),
	)

	return &ESClient{Client: client}, nil
}

// Close is a no-op; the client holds only idle HTTP connections.
func (e *ESClient) Close() {}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Ping(e.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}

// IndexDocument creates document under id. A 409 means the id is already
// stored and counts as success.
func (e *ESClient) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	res, err := e.Client.Create(index, id, bytes.NewReader(body), e.Client.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.Status())
	}
	return nil
}
