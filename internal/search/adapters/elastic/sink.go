// Package elastic implements the index sink on top of the Elasticsearch
// REST API.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/ports"
	"github.com/tegendraads/registry/pkg/codec"
	"github.com/tegendraads/registry/pkg/logger"
)

// ErrSinkClosed is returned by calls on a closed sink.
var ErrSinkClosed = errors.New("index sink is closed")

// Config holds the connection settings of a sink.
type Config struct {
	Addresses    []string
	Username     string
	Password     string
	// BulkTimeout caps a single bulk request; zero means no cap.
	BulkTimeout  time.Duration
	MaxIdleConns int
	// Codec encodes bulk bodies; zero means codec.Default().
	Codec codec.Codec
}

// Sink owns one Elasticsearch client and its connection pool. It is safe for
// concurrent BulkWrite calls.
type Sink struct {
	client      *elasticsearch.Client
	transport   *http.Transport
	codec       codec.Codec
	bulkTimeout time.Duration
	logger      logger.Logger
	closed      int32
}

// NewSink creates a sink with its own connection pool
func NewSink(cfg Config, log logger.Logger) (*Sink, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("at least one elasticsearch address is required")
	}

	idle := cfg.MaxIdleConns
	if idle <= 0 {
		idle = 32
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
		// A failed bulk job is reported, never replayed
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	jsonCodec := cfg.Codec
	if jsonCodec.IsZero() {
		jsonCodec = codec.Default()
	}

	return &Sink{
		client:      client,
		transport:   transport,
		codec:       jsonCodec,
		bulkTimeout: cfg.BulkTimeout,
		logger:      log,
	}, nil
}

// NewSinkFactory opens a fresh sink, and so a fresh connection pool, for
// every rebuild run.
func NewSinkFactory(cfg Config, log logger.Logger) func() (ports.IndexSink, error) {
	return func() (ports.IndexSink, error) {
		sink, err := NewSink(cfg, log)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
}

// CreateIndex creates name with the given settings and mapping. It fails if
// the index already exists.
func (s *Sink) CreateIndex(ctx context.Context, name string, settings, mapping []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	body, err := s.codec.Marshal(map[string]json.RawMessage{
		"settings": settings,
		"mappings": mapping,
	})
	if err != nil {
		return fmt.Errorf("encode index definition: %w", err)
	}

	res, err := esapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("create index "+name, res)
	}

	s.logger.Info("Created index", "index", name)
	return nil
}

// BulkWrite sends docs in one bulk request. Per-item rejections land in
// Rejected; any failure of the request itself lands in TransportErr.
func (s *Sink) BulkWrite(ctx context.Context, index string, docs []dataset.Document) (result indexing.BulkResult) {
	start := time.Now()
	result.Submitted = len(docs)
	defer func() { result.Duration = time.Since(start) }()

	if err := s.checkOpen(); err != nil {
		result.TransportErr = fmt.Errorf("%w: %v", indexing.ErrTransport, err)
		return result
	}
	if len(docs) == 0 {
		return result
	}

	var buf bytes.Buffer
	sent := 0
	for _, doc := range docs {
		source, err := s.codec.Marshal(doc.Source)
		if err != nil {
			result.Rejected = append(result.Rejected, indexing.DocumentFailure{
				ID:     doc.ID,
				Type:   "serialization_error",
				Reason: err.Error(),
			})
			continue
		}
		meta, err := s.codec.Marshal(bulkAction{Index: &bulkMeta{Index: index, ID: doc.ID}})
		if err != nil {
			result.Rejected = append(result.Rejected, indexing.DocumentFailure{
				ID:     doc.ID,
				Type:   "serialization_error",
				Reason: err.Error(),
			})
			continue
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
		sent++
	}
	if sent == 0 {
		return result
	}

	if s.bulkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.bulkTimeout)
		defer cancel()
	}

	res, err := esapi.BulkRequest{
		Index: index,
		Body:  &buf,
	}.Do(ctx, s.client)
	if err != nil {
		result.TransportErr = fmt.Errorf("%w: %v", indexing.ErrTransport, err)
		return result
	}
	defer res.Body.Close()

	if res.IsError() {
		result.TransportErr = fmt.Errorf("%w: %v", indexing.ErrTransport, responseError("bulk", res))
		return result
	}

	var payload bulkResponse
	if err := s.codec.Decode(res.Body, &payload); err != nil {
		result.TransportErr = fmt.Errorf("%w: decode bulk response: %v", indexing.ErrTransport, err)
		return result
	}

	for _, item := range payload.Items {
		for _, outcome := range item {
			if outcome.Status >= 200 && outcome.Status < 300 && outcome.Error == nil {
				result.Indexed++
				continue
			}
			failure := indexing.DocumentFailure{ID: outcome.ID, Status: outcome.Status}
			if outcome.Error != nil {
				failure.Type = outcome.Error.Type
				failure.Reason = outcome.Error.Reason
			}
			result.Rejected = append(result.Rejected, failure)
		}
	}

	return result
}

// UpdateSettings applies dynamic index settings to name.
func (s *Sink) UpdateSettings(ctx context.Context, name string, settings []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := esapi.IndicesPutSettingsRequest{
		Index: []string{name},
		Body:  bytes.NewReader(settings),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("update settings of %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("update settings of "+name, res)
	}

	s.logger.Info("Updated index settings", "index", name)
	return nil
}

// SwapAlias attaches alias to index and detaches it from every index that
// currently holds it, in a single _aliases request.
func (s *Sink) SwapAlias(ctx context.Context, alias, index string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	previous, err := s.aliasedIndices(ctx, alias)
	if err != nil {
		return err
	}

	actions := []aliasAction{{Add: &aliasTarget{Index: index, Alias: alias}}}
	for _, old := range previous {
		if old == index {
			continue
		}
		actions = append(actions, aliasAction{Remove: &aliasTarget{Index: old, Alias: alias}})
	}

	body, err := s.codec.Marshal(aliasActions{Actions: actions})
	if err != nil {
		return fmt.Errorf("encode alias actions: %w", err)
	}

	res, err := esapi.IndicesUpdateAliasesRequest{
		Body: bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("swap alias %s: %w", alias, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("swap alias "+alias, res)
	}

	s.logger.Info("Swapped alias", "alias", alias, "index", index, "previous", previous)
	return nil
}

func (s *Sink) aliasedIndices(ctx context.Context, alias string) ([]string, error) {
	res, err := esapi.IndicesGetAliasRequest{
		Name: []string{alias},
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("resolve alias "+alias, res)
	}

	var byIndex map[string]json.RawMessage
	if err := s.codec.Decode(res.Body, &byIndex); err != nil {
		return nil, fmt.Errorf("decode aliases of %s: %w", alias, err)
	}

	indices := make([]string, 0, len(byIndex))
	for name := range byIndex {
		indices = append(indices, name)
	}
	sort.Strings(indices)
	return indices, nil
}

// Close releases pooled connections. Further calls on the sink fail.
func (s *Sink) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.transport.CloseIdleConnections()
	return nil
}

func (s *Sink) checkOpen() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrSinkClosed
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}
