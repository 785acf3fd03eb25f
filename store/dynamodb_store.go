package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	defaultTableWait   = 5 * time.Minute
	provisionedReadCU  = 1
	provisionedWriteCU = 1
)

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBStore.
type DynamoDBAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	maxWait   time.Duration
}

// NewDynamoDBStore binds to tableName. maxWait bounds how long EnsureTable
// waits for the table to become active; zero selects five minutes.
func NewDynamoDBStore(client DynamoDBAPI, tableName string, maxWait time.Duration) *DynamoDBStore {
	if maxWait <= 0 {
		maxWait = defaultTableWait
	}
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		maxWait:   maxWait,
	}
}

func (s *DynamoDBStore) Table() string {
	return s.tableName
}

func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrName), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrName), KeyType: types.KeyTypeHash},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(provisionedReadCU),
			WriteCapacityUnits: aws.Int64(provisionedWriteCU),
		},
	})
	if err != nil {
		var alreadyExists *types.ResourceInUseException
		if !errors.As(err, &alreadyExists) {
			return fmt.Errorf("create table %s: %w", s.tableName, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)}, s.maxWait); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.tableName, err)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, name string) (Record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrName: &types.AttributeValueMemberS{Value: name},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, false, err
	}
	if len(out.Item) == 0 {
		return Record{}, false, nil
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", name, err)
	}
	return rec, true, nil
}

func (s *DynamoDBStore) ConditionalPut(ctx context.Context, rec Record, cond Condition) error {
	if cond.IsZero() {
		return ErrPreconditionFailed
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Name, err)
	}
	expr, err := expression.NewBuilder().WithCondition(conditionBuilder(cond)).Build()
	if err != nil {
		return fmt.Errorf("build condition %s: %w", cond, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return ErrPreconditionFailed
		}
		return err
	}
	return nil
}

func (s *DynamoDBStore) Put(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Name, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return err
}

// conditionBuilder renders cond in the DynamoDB condition expression DSL.
// cond must not be zero.
func conditionBuilder(cond Condition) expression.ConditionBuilder {
	clauses := cond.Clauses()
	builders := make([]expression.ConditionBuilder, 0, len(clauses))
	for _, cl := range clauses {
		switch cl.Op {
		case OpNotExists:
			builders = append(builders, expression.Name(cl.Attr).AttributeNotExists())
		case OpLessThan:
			builders = append(builders, expression.Name(cl.Attr).LessThan(expression.Value(cl.Value)))
		}
	}
	if len(builders) == 1 {
		return builders[0]
	}
	return builders[0].Or(builders[1], builders[2:]...)
}
