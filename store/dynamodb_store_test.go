package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamoDB understands the condition shapes DynamoDBStore emits:
// attribute_not_exists on the key, OR a single numeric "<" comparison.
type fakeDynamoDB struct {
	mu          sync.Mutex
	tableExists bool
	createCalls int
	items       map[string]map[string]types.AttributeValue
	lastPut     *dynamodb.PutItemInput
	lastGet     *dynamodb.GetItemInput
	getErr      error
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamoDB) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.tableExists {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	f.tableExists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamoDB) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.tableExists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGet = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	key := in.Key[AttrName].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPut = in
	key := in.Item[AttrName].(*types.AttributeValueMemberS).Value
	current, exists := f.items[key]

	if in.ConditionExpression != nil {
		expr := aws.ToString(in.ConditionExpression)
		ok := false
		if !exists && strings.Contains(expr, "attribute_not_exists") {
			ok = true
		}
		if exists && strings.Contains(expr, "<") {
			stored, _ := strconv.ParseInt(current[AttrSequenceNumber].(*types.AttributeValueMemberN).Value, 10, 64)
			for _, v := range in.ExpressionAttributeValues {
				limit, _ := strconv.ParseInt(v.(*types.AttributeValueMemberN).Value, 10, 64)
				ok = stored < limit
			}
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoDBStoreEnsureTableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamoDB()
	s := NewDynamoDBStore(fake, "trackers", 0)

	if err := s.EnsureTable(ctx); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureTable(ctx); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if fake.createCalls != 2 {
		t.Errorf("expected 2 create calls, got %d", fake.createCalls)
	}
}

func TestDynamoDBStoreGetUsesConsistentRead(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamoDB()
	s := NewDynamoDBStore(fake, "trackers", 0)

	_, found, err := s.Get(ctx, "orders")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected no record")
	}
	if !aws.ToBool(fake.lastGet.ConsistentRead) {
		t.Error("expected a strongly consistent read")
	}
	if aws.ToString(fake.lastGet.TableName) != "trackers" {
		t.Errorf("expected table trackers, got %s", aws.ToString(fake.lastGet.TableName))
	}
}

func TestDynamoDBStoreConditionalPut(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamoDB()
	s := NewDynamoDBStore(fake, "trackers", 0)

	cond := AttributeNotExists(AttrName).Or(LessThan(AttrSequenceNumber, 7))
	if err := s.ConditionalPut(ctx, Record{Name: "orders", SequenceNumber: 7}, cond); err != nil {
		t.Fatalf("conditional put: %v", err)
	}

	in := fake.lastPut
	expr := aws.ToString(in.ConditionExpression)
	if !strings.Contains(expr, "attribute_not_exists") || !strings.Contains(expr, " OR ") {
		t.Errorf("unexpected condition expression %q", expr)
	}
	names := make(map[string]bool)
	for _, n := range in.ExpressionAttributeNames {
		names[n] = true
	}
	if !names[AttrName] || !names[AttrSequenceNumber] {
		t.Errorf("expected names for %s and %s, got %v", AttrName, AttrSequenceNumber, in.ExpressionAttributeNames)
	}
	if len(in.ExpressionAttributeValues) != 1 {
		t.Fatalf("expected one expression value, got %d", len(in.ExpressionAttributeValues))
	}
	for _, v := range in.ExpressionAttributeValues {
		if n, ok := v.(*types.AttributeValueMemberN); !ok || n.Value != "7" {
			t.Errorf("expected N 7, got %#v", v)
		}
	}

	rec, found, err := s.Get(ctx, "orders")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if rec.SequenceNumber != 7 {
		t.Errorf("expected 7, got %d", rec.SequenceNumber)
	}

	err = s.ConditionalPut(ctx, Record{Name: "orders", SequenceNumber: 7}, cond)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestDynamoDBStorePutIsUnconditional(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamoDB()
	s := NewDynamoDBStore(fake, "trackers", 0)

	if err := s.Put(ctx, Record{Name: "orders", SequenceNumber: 50}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, Record{Name: "orders", SequenceNumber: 0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if fake.lastPut.ConditionExpression != nil {
		t.Errorf("expected no condition, got %q", aws.ToString(fake.lastPut.ConditionExpression))
	}
	rec, _, _ := s.Get(ctx, "orders")
	if rec.SequenceNumber != 0 {
		t.Errorf("expected 0, got %d", rec.SequenceNumber)
	}
}

func TestDynamoDBStoreTransportErrorPassesThrough(t *testing.T) {
	fake := newFakeDynamoDB()
	fake.getErr = &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	s := NewDynamoDBStore(fake, "trackers", 0)

	_, _, err := s.Get(context.Background(), "orders")
	var throttled *types.ProvisionedThroughputExceededException
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throughput error, got %v", err)
	}
}
