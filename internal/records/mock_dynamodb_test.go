package records

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory stand-in for the records table. It understands only the
// condition expressions the store issues.
// NOTE: This is intentionally minimal and not production-grade.
type mockDynamo struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	updateCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func keyOf(key map[string]types.AttributeValue) (string, error) {
	v, ok := key["record_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key")
	}
	return v.Value, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == CondCreate {
		if _, ok := m.table[k]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.table[k]
	vals := params.ExpressionAttributeValues
	cond := ""
	if params.ConditionExpression != nil {
		cond = *params.ConditionExpression
	}

	switch cond {
	case CondAttachSession:
		if !exists || strAttr(item, "session_id") != "" {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item["session_id"] = vals[":sid"]
	case CondMarkPaid, CondMarkPaidAny:
		if !exists || strAttr(item, "status") != string(StatusPending) {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if cond == CondMarkPaid {
			current := strAttr(item, "session_id")
			want := vals[":sid"].(*types.AttributeValueMemberS).Value
			if current != "" && current != want {
				return nil, &types.ConditionalCheckFailedException{}
			}
			if current == "" {
				item["session_id"] = vals[":sid"]
			}
		}
		item["status"] = vals[":paid"]
		item["payment_id"] = vals[":pid"]
		item["paid_at"] = vals[":ua"]
	case CondSetResult:
		if !exists || strAttr(item, "status") != string(StatusPaid) {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item["result_url"] = vals[":url"]
	default:
		return nil, errors.New("unsupported condition: " + cond)
	}
	item["updated_at"] = vals[":ua"]
	m.table[k] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := params.ExpressionAttributeValues

	var out []map[string]types.AttributeValue
	switch *params.IndexName {
	case SessionIndex:
		sid := vals[":sid"].(*types.AttributeValueMemberS).Value
		for _, item := range m.table {
			if strAttr(item, "session_id") == sid {
				out = append(out, copyItem(item))
			}
		}
	case UserCreatedIndex:
		uid := vals[":uid"].(*types.AttributeValueMemberS).Value
		st := vals[":st"].(*types.AttributeValueMemberS).Value
		for _, item := range m.table {
			if strAttr(item, "user_id") == uid && strAttr(item, "status") == st {
				out = append(out, copyItem(item))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return createdAt(out[i]) > createdAt(out[j])
		})
	default:
		return nil, errors.New("unknown index")
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func createdAt(item map[string]types.AttributeValue) int64 {
	n, ok := item["created_at"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}
