package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/store"
)

const (
	// DefaultRequestTimeout bounds each request.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultKeywordSuffix is appended to term query fields.
	DefaultKeywordSuffix = ".keyword"
)

// Config configures a Store.
type Config struct {
	// Addresses lists the cluster URLs, e.g. http://localhost:9200.
	Addresses []string
	Username  string
	Password  string
	APIKey    string

	// RequestTimeout bounds each request. Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
	// MaxRetries is the client's retry budget for transport failures.
	MaxRetries int
	// KeywordSuffix is appended to the field of term queries.
	// Defaults to DefaultKeywordSuffix; set to "-" to query the field as is.
	KeywordSuffix string
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

var _ store.Store = (*Store)(nil)

// Store is an Elasticsearch-backed store.Store. Create one per worker.
type Store struct {
	es        *elasticsearch.Client
	transport http.RoundTripper
	timeout   time.Duration
	keyword   string
}

// New creates a Store. It does not contact the cluster; use Ping for that.
func New(cfg Config) (*Store, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	switch cfg.KeywordSuffix {
	case "":
		cfg.KeywordSuffix = DefaultKeywordSuffix
	case "-":
		cfg.KeywordSuffix = ""
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		APIKey:     cfg.APIKey,
		MaxRetries: cfg.MaxRetries,
		Transport:  transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: new client: %w", err)
	}

	return &Store{
		es:        es,
		transport: transport,
		timeout:   cfg.RequestTimeout,
		keyword:   cfg.KeywordSuffix,
	}, nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Ping checks that the cluster answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Info(s.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elastic: ping: %w", err)
	}
	defer res.Body.Close()
	return responseError("ping", res)
}

type mgetResponse struct {
	Docs []struct {
		ID     string          `json:"_id"`
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
		Error  *errorCause     `json:"error"`
	} `json:"docs"`
}

// LookupMany issues one _mget for ids.
func (s *Store) LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error) {
	out := make(map[string]model.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Mget(bytes.NewReader(body),
		s.es.Mget.WithIndex(index),
		s.es.Mget.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elastic: mget %s: %w", index, err)
	}
	defer res.Body.Close()
	if err := responseError("mget", res); err != nil {
		return nil, err
	}

	var resp mgetResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: mget: %v", store.ErrMalformedResponse, err)
	}
	for _, d := range resp.Docs {
		if d.Error != nil {
			return nil, fmt.Errorf("elastic: mget %s: %s: %s", d.ID, d.Error.Type, d.Error.Reason)
		}
		if d.Found {
			out[d.ID] = model.Document{ID: d.ID, Source: d.Source}
		}
	}
	return out, nil
}

type searchRequest struct {
	Size        int                 `json:"size"`
	Query       map[string]any      `json:"query"`
	Sort        []map[string]string `json:"sort"`
	SearchAfter store.Cursor        `json:"search_after,omitempty"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
			Sort   []any           `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// QueryPage runs one term query page sorted ascending by q.SortKey.
func (s *Store) QueryPage(ctx context.Context, q store.PageQuery) (store.Page, error) {
	req := searchRequest{
		Size: q.Size,
		Query: map[string]any{
			"term": map[string]string{q.Field + s.keyword: q.Value},
		},
		Sort:        []map[string]string{{q.SortKey: "asc"}},
		SearchAfter: q.After,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return store.Page{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Search(
		s.es.Search.WithIndex(q.Index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return store.Page{}, fmt.Errorf("elastic: search %s: %w", q.Index, err)
	}
	defer res.Body.Close()
	if err := responseError("search", res); err != nil {
		return store.Page{}, err
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var resp searchResponse
	if err := dec.Decode(&resp); err != nil {
		return store.Page{}, fmt.Errorf("%w: search: %v", store.ErrMalformedResponse, err)
	}

	page := store.Page{Hits: make([]store.Hit, len(resp.Hits.Hits))}
	for i, h := range resp.Hits.Hits {
		page.Hits[i] = store.Hit{ID: h.ID, Source: h.Source, Sort: store.Cursor(h.Sort)}
	}
	if n := len(page.Hits); n > 0 {
		page.Next = page.Hits[n-1].Sort
	}
	return page, nil
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string      `json:"_id"`
	Status int         `json:"status"`
	Error  *errorCause `json:"error"`
}

type errorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// BulkUpsert sends actions in one _bulk request.
func (s *Store) BulkUpsert(ctx context.Context, index string, actions []store.Action) (store.BulkResult, error) {
	if len(actions) == 0 {
		return store.BulkResult{}, nil
	}
	body, err := encodeBulk(index, actions)
	if err != nil {
		return store.BulkResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Bulk(bytes.NewReader(body),
		s.es.Bulk.WithIndex(index),
		s.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return store.BulkResult{}, fmt.Errorf("elastic: bulk %s: %w", index, err)
	}
	defer res.Body.Close()
	if err := responseError("bulk", res); err != nil {
		return store.BulkResult{}, err
	}

	var resp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return store.BulkResult{}, fmt.Errorf("%w: bulk: %v", store.ErrMalformedResponse, err)
	}
	if len(resp.Items) != len(actions) {
		return store.BulkResult{}, fmt.Errorf("%w: bulk: %d items for %d actions", store.ErrMalformedResponse, len(resp.Items), len(actions))
	}

	var result store.BulkResult
	for i, item := range resp.Items {
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				result.Succeeded++
				continue
			}
			id := r.ID
			if id == "" {
				id = actions[i].ID
			}
			reason := fmt.Sprintf("status %d", r.Status)
			if r.Error != nil {
				reason = r.Error.Type + ": " + r.Error.Reason
			}
			result.Failures = append(result.Failures, store.ItemFailure{ID: id, Reason: reason, Status: r.Status})
		}
	}
	return result, nil
}

func encodeBulk(index string, actions []store.Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	type meta struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	}
	for _, a := range actions {
		m := meta{Index: index, ID: a.ID}
		switch a.Op {
		case store.OpUpdate:
			if err := enc.Encode(map[string]meta{"update": m}); err != nil {
				return nil, err
			}
			if err := enc.Encode(struct {
				Doc         json.RawMessage `json:"doc"`
				DocAsUpsert bool            `json:"doc_as_upsert,omitempty"`
			}{a.Doc, a.Upsert}); err != nil {
				return nil, err
			}
		case store.OpIndex:
			if err := enc.Encode(map[string]meta{"index": m}); err != nil {
				return nil, err
			}
			if err := enc.Encode(a.Doc); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("elastic: unsupported op %s", a.Op)
		}
	}
	return buf.Bytes(), nil
}

func responseError(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var e struct {
		Error errorCause `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error.Type != "" {
		return fmt.Errorf("elastic: %s: %d %s: %s", op, res.StatusCode, e.Error.Type, e.Error.Reason)
	}
	return fmt.Errorf("elastic: %s: %s", op, res.Status())
}
