// Package dynamo implements store.Store on Amazon DynamoDB.
//
// Each graphmat index maps to a table keyed by the string attribute "id".
// Documents are stored as native attributes. Term queries require a global
// secondary index named "<field>-index" with partition key <field> and sort
// key "id":
//
//	aws dynamodb update-table --table-name edges \
//	  --attribute-definitions AttributeName=subject,AttributeType=S AttributeName=id,AttributeType=S \
//	  --global-secondary-index-updates '[{"Create":{"IndexName":"subject-index",
//	    "KeySchema":[{"AttributeName":"subject","KeyType":"HASH"},{"AttributeName":"id","KeyType":"RANGE"}],
//	    "Projection":{"ProjectionType":"ALL"}}}]'
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/store"
)

const (
	// KeyAttribute is the partition key of every table.
	KeyAttribute = "id"

	maxBatchGet   = 100
	maxBatchWrite = 25
	maxAttempts   = 5
)

// ErrUnsupportedSort is returned for page queries not sorted by id.
var ErrUnsupportedSort = errors.New("dynamo: only the id sort key is supported")

// Client is the subset of the DynamoDB API the store uses.
// *dynamodb.Client satisfies it.
type Client interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Option configures a Store.
type Option func(*Store)

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithTablePrefix prepends prefix to every table name.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithRetryBackoff sets the base delay between unprocessed-item retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Store) {
		s.backoff = d
	}
}

var _ store.Store = (*Store)(nil)

// Store is a DynamoDB-backed store.Store.
type Store struct {
	client  Client
	timeout time.Duration
	prefix  string
	backoff time.Duration
}

// New creates a Store on client.
func New(client Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		timeout: 60 * time.Second,
		backoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(index string) string {
	return s.prefix + index
}

func (s *Store) wait(ctx context.Context, attempt int) error {
	if attempt == 0 || s.backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.backoff << (attempt - 1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LookupMany fetches ids with BatchGetItem in chunks of 100, retrying
// unprocessed keys.
func (s *Store) LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error) {
	out := make(map[string]model.Document, len(ids))
	table := s.table(index)
	ids = store.Distinct(ids)

	for start := 0; start < len(ids); start += maxBatchGet {
		chunk := ids[start:min(start+maxBatchGet, len(ids))]
		keys := make([]map[string]types.AttributeValue, len(chunk))
		for i, id := range chunk {
			keys[i] = map[string]types.AttributeValue{KeyAttribute: &types.AttributeValueMemberS{Value: id}}
		}
		request := map[string]types.KeysAndAttributes{table: {Keys: keys}}

		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == maxAttempts {
				return nil, fmt.Errorf("dynamo: batch get %s: unprocessed keys after %d attempts", table, maxAttempts)
			}
			if err := s.wait(ctx, attempt); err != nil {
				return nil, err
			}
			resp, err := s.batchGet(ctx, request)
			if err != nil {
				return nil, fmt.Errorf("dynamo: batch get %s: %w", table, err)
			}
			for _, item := range resp.Responses[table] {
				doc, err := toDocument(item)
				if err != nil {
					return nil, err
				}
				out[doc.ID] = doc
			}
			request = resp.UnprocessedKeys
		}
	}
	return out, nil
}

func (s *Store) batchGet(ctx context.Context, request map[string]types.KeysAndAttributes) (*dynamodb.BatchGetItemOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
}

// QueryPage queries the "<field>-index" GSI. DynamoDB may stop a query
// early at its 1 MB response cap, so queries are repeated until the page is
// full or the index is exhausted.
func (s *Store) QueryPage(ctx context.Context, q store.PageQuery) (store.Page, error) {
	if q.SortKey != "" && q.SortKey != KeyAttribute {
		return store.Page{}, fmt.Errorf("%w: %q", ErrUnsupportedSort, q.SortKey)
	}
	if q.Size <= 0 {
		return store.Page{}, fmt.Errorf("dynamo: page size must be positive, got %d", q.Size)
	}

	var startKey map[string]types.AttributeValue
	if len(q.After) > 0 {
		after, ok := q.After[0].(string)
		if !ok {
			return store.Page{}, fmt.Errorf("%w: cursor %v", store.ErrMalformedResponse, q.After)
		}
		startKey = map[string]types.AttributeValue{
			KeyAttribute: &types.AttributeValueMemberS{Value: after},
			q.Field:      &types.AttributeValueMemberS{Value: q.Value},
		}
	}

	var page store.Page
	for {
		resp, err := s.query(ctx, q, startKey, int32(q.Size-len(page.Hits)))
		if err != nil {
			return store.Page{}, fmt.Errorf("dynamo: query %s %s=%s: %w", q.Index, q.Field, q.Value, err)
		}
		for _, item := range resp.Items {
			doc, err := toDocument(item)
			if err != nil {
				return store.Page{}, err
			}
			page.Hits = append(page.Hits, store.Hit{ID: doc.ID, Source: doc.Source, Sort: store.Cursor{doc.ID}})
		}
		if len(page.Hits) >= q.Size || len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	if n := len(page.Hits); n > 0 {
		page.Next = page.Hits[n-1].Sort
	}
	return page, nil
}

func (s *Store) query(ctx context.Context, q store.PageQuery, startKey map[string]types.AttributeValue, limit int32) (*dynamodb.QueryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table(q.Index)),
		IndexName:              aws.String(q.Field + "-index"),
		KeyConditionExpression: aws.String("#f = :v"),
		ExpressionAttributeNames: map[string]string{
			"#f": q.Field,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: q.Value},
		},
		ExclusiveStartKey: startKey,
		ScanIndexForward:  aws.Bool(true),
		Limit:             aws.Int32(limit),
	})
}

// BulkUpsert writes OpIndex actions with BatchWriteItem in chunks of 25 and
// OpUpdate actions with one UpdateItem each. Only context errors fail the
// whole call; everything else is reported per item.
func (s *Store) BulkUpsert(ctx context.Context, index string, actions []store.Action) (store.BulkResult, error) {
	var (
		res  store.BulkResult
		puts []store.Action
	)
	for _, a := range actions {
		switch a.Op {
		case store.OpIndex:
			puts = append(puts, a)
		case store.OpUpdate:
			failure, err := s.update(ctx, index, a)
			if err != nil {
				return store.BulkResult{}, err
			}
			if failure != nil {
				res.Failures = append(res.Failures, *failure)
				continue
			}
			res.Succeeded++
		default:
			res.Failures = append(res.Failures, store.ItemFailure{ID: a.ID, Reason: "unsupported op " + a.Op.String(), Status: 400})
		}
	}

	for start := 0; start < len(puts); start += maxBatchWrite {
		chunk := puts[start:min(start+maxBatchWrite, len(puts))]
		ok, failures, err := s.batchWrite(ctx, index, chunk)
		if err != nil {
			return store.BulkResult{}, err
		}
		res.Succeeded += ok
		res.Failures = append(res.Failures, failures...)
	}
	return res, nil
}

func (s *Store) update(ctx context.Context, index string, a store.Action) (*store.ItemFailure, error) {
	fields, err := decodeDoc(a.Doc)
	if err != nil {
		return &store.ItemFailure{ID: a.ID, Reason: err.Error(), Status: 400}, nil
	}
	delete(fields, KeyAttribute)
	if len(fields) == 0 {
		return nil, nil
	}

	names := map[string]string{"#id": KeyAttribute}
	values := make(map[string]types.AttributeValue, len(fields))
	sets := make([]string, 0, len(fields))
	for i, k := range slices.Sorted(maps.Keys(fields)) {
		av, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return &store.ItemFailure{ID: a.ID, Reason: err.Error(), Status: 400}, nil
		}
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		names[n] = k
		values[v] = av
		sets = append(sets, n+" = "+v)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table(index)),
		Key:                       map[string]types.AttributeValue{KeyAttribute: &types.AttributeValueMemberS{Value: a.ID}},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if !a.Upsert {
		input.ConditionExpression = aws.String("attribute_exists(#id)")
	}

	ctx2, cancel := context.WithTimeout(ctx, s.timeout)
	_, err = s.client.UpdateItem(ctx2, input)
	cancel()
	if err == nil {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return &store.ItemFailure{ID: a.ID, Reason: "document_missing_exception", Status: 404}, nil
	}
	return &store.ItemFailure{ID: a.ID, Reason: err.Error(), Status: 500}, nil
}

func (s *Store) batchWrite(ctx context.Context, index string, chunk []store.Action) (int, []store.ItemFailure, error) {
	table := s.table(index)
	var failures []store.ItemFailure

	writes := make([]types.WriteRequest, 0, len(chunk))
	for _, a := range chunk {
		fields, err := decodeDoc(a.Doc)
		if err != nil {
			failures = append(failures, store.ItemFailure{ID: a.ID, Reason: err.Error(), Status: 400})
			continue
		}
		fields[KeyAttribute] = a.ID
		item, err := attributevalue.MarshalMap(fields)
		if err != nil {
			failures = append(failures, store.ItemFailure{ID: a.ID, Reason: err.Error(), Status: 400})
			continue
		}
		writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	pending := writes
	for attempt := 0; len(pending) > 0 && attempt < maxAttempts; attempt++ {
		if err := s.wait(ctx, attempt); err != nil {
			return 0, nil, err
		}
		ctx2, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := s.client.BatchWriteItem(ctx2, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: pending},
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			for _, w := range pending {
				failures = append(failures, store.ItemFailure{ID: itemID(w), Reason: err.Error(), Status: 500})
			}
			pending = nil
			break
		}
		pending = resp.UnprocessedItems[table]
	}
	for _, w := range pending {
		failures = append(failures, store.ItemFailure{ID: itemID(w), Reason: "unprocessed after retries", Status: 503})
	}
	return len(chunk) - len(failures), failures, nil
}

func itemID(w types.WriteRequest) string {
	if w.PutRequest == nil {
		return ""
	}
	if s, ok := w.PutRequest.Item[KeyAttribute].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func decodeDoc(doc json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("dynamo: decode document: %w", err)
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	return fields, nil
}

func toDocument(item map[string]types.AttributeValue) (model.Document, error) {
	var fields map[string]any
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", store.ErrMalformedResponse, err)
	}
	id, ok := fields[KeyAttribute].(string)
	if !ok {
		return model.Document{}, fmt.Errorf("%w: item without string id", store.ErrMalformedResponse)
	}
	src, err := json.Marshal(fields)
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{ID: id, Source: src}, nil
}
