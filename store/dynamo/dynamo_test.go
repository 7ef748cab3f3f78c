package dynamo

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphmat/store"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue // table -> id -> item

	// maxPerQuery simulates the 1 MB response cap.
	maxPerQuery int
	// deferGets/deferWrites leave that many requests unprocessed per call.
	deferGets       int
	deferWrites     int
	alwaysUnprocess bool

	queries int
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{tables: make(map[string]map[string]map[string]types.AttributeValue)}
}

func (m *mockDDBClient) put(t *testing.T, table string, doc map[string]any) {
	t.Helper()
	item, err := attributevalue.MarshalMap(doc)
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]map[string]types.AttributeValue)
	}
	m.tables[table][doc["id"].(string)] = item
}

func (m *mockDDBClient) get(t *testing.T, table, id string) map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.tables[table][id]
	if !ok {
		return nil
	}
	var out map[string]any
	require.NoError(t, attributevalue.UnmarshalMap(item, &out))
	return out
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (m *mockDDBClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for table, ka := range params.RequestItems {
		if len(ka.Keys) > maxBatchGet {
			return nil, &types.ResourceNotFoundException{Message: aws.String("too many keys")}
		}
		keys := ka.Keys
		if m.deferGets > 0 && len(keys) > m.deferGets {
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: keys[:m.deferGets]}
			keys = keys[m.deferGets:]
			m.deferGets = 0
		}
		for _, k := range keys {
			if item, ok := m.tables[table][str(k["id"])]; ok {
				out.Responses[table] = append(out.Responses[table], item)
			}
		}
	}
	return out, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	field := params.ExpressionAttributeNames["#f"]
	value := str(params.ExpressionAttributeValues[":v"])
	if aws.ToString(params.IndexName) != field+"-index" {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no such index")}
	}

	var matched []map[string]types.AttributeValue
	for _, item := range m.tables[aws.ToString(params.TableName)] {
		if str(item[field]) == value {
			matched = append(matched, item)
		}
	}
	slices.SortFunc(matched, func(a, b map[string]types.AttributeValue) int {
		return strings.Compare(str(a["id"]), str(b["id"]))
	})
	if after := str(params.ExclusiveStartKey["id"]); after != "" {
		i := 0
		for i < len(matched) && str(matched[i]["id"]) <= after {
			i++
		}
		matched = matched[i:]
	}

	limit := len(matched)
	if params.Limit != nil && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}
	if m.maxPerQuery > 0 && m.maxPerQuery < limit {
		limit = m.maxPerQuery
	}
	out := &dynamodb.QueryOutput{Items: matched[:limit]}
	if limit < len(matched) && limit > 0 {
		last := matched[limit-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"id": last["id"], field: last[field]}
	}
	return out, nil
}

func (m *mockDDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: make(map[string][]types.WriteRequest)}
	for table, writes := range params.RequestItems {
		if len(writes) > maxBatchWrite {
			return nil, &types.ResourceNotFoundException{Message: aws.String("too many writes")}
		}
		if m.alwaysUnprocess {
			out.UnprocessedItems[table] = writes
			continue
		}
		if m.deferWrites > 0 && len(writes) > m.deferWrites {
			out.UnprocessedItems[table] = writes[:m.deferWrites]
			writes = writes[m.deferWrites:]
			m.deferWrites = 0
		}
		if m.tables[table] == nil {
			m.tables[table] = make(map[string]map[string]types.AttributeValue)
		}
		for _, w := range writes {
			m.tables[table][str(w.PutRequest.Item["id"])] = w.PutRequest.Item
		}
	}
	return out, nil
}

func (m *mockDDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := aws.ToString(params.TableName)
	id := str(params.Key["id"])
	item, exists := m.tables[table][id]
	if aws.ToString(params.ConditionExpression) == "attribute_exists(#id)" && !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	if !exists {
		item = map[string]types.AttributeValue{"id": params.Key["id"]}
	}

	expr := strings.TrimPrefix(aws.ToString(params.UpdateExpression), "SET ")
	for _, set := range strings.Split(expr, ", ") {
		name, value, _ := strings.Cut(set, " = ")
		item[params.ExpressionAttributeNames[name]] = params.ExpressionAttributeValues[value]
	}
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]map[string]types.AttributeValue)
	}
	m.tables[table][id] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func newTestStore(client *mockDDBClient) *Store {
	return New(client, WithRetryBackoff(0))
}

func TestLookupMany(t *testing.T) {
	client := newMockDDBClient()
	client.put(t, "nodes", map[string]any{"id": "n1", "name": "alpha"})
	client.put(t, "nodes", map[string]any{"id": "n2", "name": "beta", "weight": 2.5})
	client.deferGets = 1

	s := newTestStore(client)
	docs, err := s.LookupMany(context.Background(), "nodes", []string{"n1", "n2", "n3", "n1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "n1", docs["n1"].ID)
	assert.JSONEq(t, `{"id":"n1","name":"alpha"}`, string(docs["n1"].Source))
	assert.JSONEq(t, `{"id":"n2","name":"beta","weight":2.5}`, string(docs["n2"].Source))
}

func TestLookupMany_Chunked(t *testing.T) {
	client := newMockDDBClient()
	ids := make([]string, 250)
	for i := range ids {
		ids[i] = "n" + strings.Repeat("x", i%3) + string(rune('a'+i%26)) + string(rune('a'+i/26))
		client.put(t, "nodes", map[string]any{"id": ids[i]})
	}

	docs, err := newTestStore(client).LookupMany(context.Background(), "nodes", ids)
	require.NoError(t, err)
	assert.Len(t, docs, len(store.Distinct(ids)))
}

func TestQueryPage(t *testing.T) {
	client := newMockDDBClient()
	for _, id := range []string{"e5", "e1", "e3", "e2", "e4"} {
		client.put(t, "edges", map[string]any{"id": id, "subject": "n1", "object": "n2"})
	}
	client.put(t, "edges", map[string]any{"id": "e6", "subject": "n9", "object": "n1"})
	client.maxPerQuery = 2

	s := newTestStore(client)
	q := store.PageQuery{Index: "edges", Field: "subject", Value: "n1", SortKey: "id", Size: 3}

	page, err := s.QueryPage(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, page.Hits, 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, hitIDs(page))
	assert.Equal(t, store.Cursor{"e3"}, page.Next)
	assert.Equal(t, 2, client.queries)

	q.After = page.Next
	page, err = s.QueryPage(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"e4", "e5"}, hitIDs(page))

	q.After = page.Next
	page, err = s.QueryPage(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, page.Hits)
	assert.Nil(t, page.Next)
}

func TestQueryPage_Validation(t *testing.T) {
	s := newTestStore(newMockDDBClient())

	_, err := s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Field: "subject", Value: "n1", SortKey: "created", Size: 10})
	require.ErrorIs(t, err, ErrUnsupportedSort)

	_, err = s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Field: "subject", Value: "n1", Size: 0})
	require.Error(t, err)

	_, err = s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Field: "subject", Value: "n1", Size: 10, After: store.Cursor{42}})
	require.ErrorIs(t, err, store.ErrMalformedResponse)
}

func TestBulkUpsert_Update(t *testing.T) {
	client := newMockDDBClient()
	client.put(t, "nodes", map[string]any{"id": "n1", "name": "alpha"})
	s := newTestStore(client)

	doc := json.RawMessage(`{"out_edges":[{"id":"e1","object":"n2"}],"in_edges":[]}`)
	res, err := s.BulkUpsert(context.Background(), "nodes", []store.Action{
		{Op: store.OpUpdate, ID: "n1", Doc: doc},
		{Op: store.OpUpdate, ID: "missing", Doc: doc},
		{Op: store.OpUpdate, ID: "fresh", Doc: doc, Upsert: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "missing", res.Failures[0].ID)
	assert.Equal(t, 404, res.Failures[0].Status)

	n1 := client.get(t, "nodes", "n1")
	assert.Equal(t, "alpha", n1["name"])
	assert.Equal(t, []any{map[string]any{"id": "e1", "object": "n2"}}, n1["out_edges"])
	assert.Equal(t, []any{}, n1["in_edges"])

	assert.NotNil(t, client.get(t, "nodes", "fresh"))
	assert.Nil(t, client.get(t, "nodes", "missing"))
}

func TestBulkUpsert_Index(t *testing.T) {
	client := newMockDDBClient()
	client.deferWrites = 2
	s := newTestStore(client)

	actions := make([]store.Action, 30)
	for i := range actions {
		id := "e" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		actions[i] = store.Action{Op: store.OpIndex, ID: id, Doc: json.RawMessage(`{"subject":"n1"}`)}
	}
	actions = append(actions, store.Action{Op: store.OpIndex, ID: "bad", Doc: json.RawMessage(`not json`)})

	res, err := s.BulkUpsert(context.Background(), "edges", actions)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad", res.Failures[0].ID)
	assert.Equal(t, 400, res.Failures[0].Status)

	got := client.get(t, "edges", "eaa")
	assert.Equal(t, map[string]any{"id": "eaa", "subject": "n1"}, got)
}

func TestBulkUpsert_Unprocessed(t *testing.T) {
	client := newMockDDBClient()
	client.alwaysUnprocess = true
	s := newTestStore(client)

	res, err := s.BulkUpsert(context.Background(), "edges", []store.Action{
		{Op: store.OpIndex, ID: "e1", Doc: json.RawMessage(`{}`)},
		{Op: store.OpIndex, ID: "e2", Doc: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, 503, f.Status)
	}
}

func TestBulkUpsert_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newMockDDBClient()
	client.alwaysUnprocess = true
	s := New(client)

	_, err := s.BulkUpsert(ctx, "edges", []store.Action{{Op: store.OpIndex, ID: "e1", Doc: json.RawMessage(`{}`)}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTablePrefix(t *testing.T) {
	client := newMockDDBClient()
	client.put(t, "dev_nodes", map[string]any{"id": "n1"})

	docs, err := New(client, WithTablePrefix("dev_"), WithRetryBackoff(0)).LookupMany(context.Background(), "nodes", []string{"n1"})
	require.NoError(t, err)
	assert.Contains(t, docs, "n1")
}

func hitIDs(p store.Page) []string {
	ids := make([]string, len(p.Hits))
	for i, h := range p.Hits {
		ids[i] = h.ID
	}
	return ids
}
