package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoLocker.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker keeps leases in a DynamoDB table keyed by lease_key. The table's
// TTL attribute should be expires_at so abandoned leases are eventually removed.
type DynamoLocker struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoLocker(client DynamoAPI, tableName string) *DynamoLocker {
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

// Acquire writes the lease with a conditional put:
// attribute_not_exists(lease_key) OR expires_at < :now OR owner = :owner.
func (l *DynamoLocker) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	now := l.now()
	lease := Lease{
		Key:       key,
		Owner:     owner,
		ExpiresAt: now.Add(l.ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(lease)
	if err != nil {
		return nil, fmt.Errorf("marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(lease_key) OR expires_at < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("acquire lease %q: %w", key, err)
	}
	return &lease, nil
}

func (l *DynamoLocker) Release(ctx context.Context, key, owner string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotOwner
		}
		return fmt.Errorf("release lease %q: %w", key, err)
	}
	return nil
}

func (l *DynamoLocker) Status(ctx context.Context, key string) (*Lease, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get lease %q: %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var lease Lease
	if err := attributevalue.UnmarshalMap(out.Item, &lease); err != nil {
		return nil, fmt.Errorf("unmarshal lease: %w", err)
	}
	// TTL deletion lags; treat expired rows as free.
	if lease.Expired(l.now()) {
		return nil, nil
	}
	return &lease, nil
}
