package presence

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"proofcanvas/application/ports"
	appErrors "proofcanvas/pkg/errors"
	"proofcanvas/pkg/observability"
	"proofcanvas/pkg/resilience"
)

const (
	// ProblemIndex is the GSI keyed by problem_id
	ProblemIndex = "problem-index"
	// UserIndex is the GSI keyed by user_id
	UserIndex = "user-index"

	// DefaultTTL bounds how long a record outlives a relay that died without cleanup
	DefaultTTL = 2 * time.Hour
)

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps connection records in a DynamoDB table keyed by
// connection_id, with DynamoDB TTL on the ttl attribute for stale rows
type DynamoStore struct {
	client  DynamoAPI
	table   string
	ttl     time.Duration
	breaker *resilience.Breaker
	metrics *observability.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewDynamoStore creates a store. A non-positive ttl uses DefaultTTL; metrics may be nil.
func NewDynamoStore(client DynamoAPI, table string, ttl time.Duration, metrics *observability.Collector, logger *zap.Logger) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoStore{
		client:  client,
		table:   table,
		ttl:     ttl,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig("dynamodb-presence"), logger),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Put records or refreshes a connection, stamping its expiry
func (s *DynamoStore) Put(ctx context.Context, record ports.ConnectionRecord) error {
	if record.ConnectionID == "" {
		return appErrors.NewValidationError("connection id is required")
	}
	if record.ConnectedAt.IsZero() {
		record.ConnectedAt = s.now().UTC()
	}
	record.ExpiresAt = s.now().Add(s.ttl).Unix()

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal connection record")
	}

	err = s.breaker.Do(func() error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		})
		if err != nil {
			return appErrors.NewExternalError("dynamodb", err)
		}
		return nil
	})
	s.count("put", err)
	return err
}

// Delete removes a connection. Deleting a missing record is not an error.
func (s *DynamoStore) Delete(ctx context.Context, connectionID string) error {
	key, err := attributevalue.MarshalMap(map[string]string{"connection_id": connectionID})
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal connection key")
	}

	err = s.breaker.Do(func() error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       key,
		})
		if err != nil {
			return appErrors.NewExternalError("dynamodb", err)
		}
		return nil
	})
	s.count("delete", err)
	return err
}

// ListByProblem returns the unexpired connections of one room
func (s *DynamoStore) ListByProblem(ctx context.Context, problemID string) ([]ports.ConnectionRecord, error) {
	var out []ports.ConnectionRecord
	err := s.query(ctx, ProblemIndex, "problem_id", problemID, false, func(page *dynamodb.QueryOutput) error {
		var records []ports.ConnectionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return appErrors.Wrap(err, "failed to unmarshal connection records")
		}
		out = append(out, records...)
		return nil
	})
	return out, err
}

// CountByUser returns how many unexpired connections a user holds
func (s *DynamoStore) CountByUser(ctx context.Context, userID string) (int, error) {
	n := 0
	err := s.query(ctx, UserIndex, "user_id", userID, true, func(page *dynamodb.QueryOutput) error {
		n += int(page.Count)
		return nil
	})
	return n, err
}

// query pages through an index, skipping rows whose ttl already passed
// (DynamoDB removes expired rows lazily)
func (s *DynamoStore) query(ctx context.Context, index, attr, value string, count bool, page func(*dynamodb.QueryOutput) error) error {
	keyCond := expression.Key(attr).Equal(expression.Value(value))
	filter := expression.Name("ttl").GreaterThan(expression.Value(s.now().Unix()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return appErrors.Wrap(err, "failed to build presence query")
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if count {
		input.Select = types.SelectCount
	}

	err = s.breaker.Do(func() error {
		paginator := dynamodb.NewQueryPaginator(s.client, input)
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return appErrors.NewExternalError("dynamodb", err)
			}
			if err := page(out); err != nil {
				return err
			}
		}
		return nil
	})
	s.count("query", err)
	return err
}

func (s *DynamoStore) count(op string, err error) {
	if err != nil {
		s.logger.Warn("Presence store operation failed", zap.String("operation", op), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.PresenceOps.WithLabelValues(op, observability.Status(err)).Inc()
	}
}
