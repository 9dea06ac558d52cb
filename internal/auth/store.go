package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/medidash/internal/crypto"
	"github.com/jun/medidash/internal/model"
)

var (
	// ErrNoToken is returned by Load before the authorization-code flow has completed once.
	ErrNoToken = errors.New("no token record")

	// ErrTokenConflict is returned by SaveIfUnchanged when another writer got there first.
	ErrTokenConflict = errors.New("token record changed concurrently")
)

// TokenStore persists the single deployment-wide token record.
type TokenStore interface {
	Load(ctx context.Context) (*model.TokenRecord, error)

	// Save overwrites the record unconditionally (authorization callback).
	Save(ctx context.Context, rec model.TokenRecord) error

	// SaveIfUnchanged writes rec only if the stored record still expires at prevExpiresAt.
	SaveIfUnchanged(ctx context.Context, rec model.TokenRecord, prevExpiresAt time.Time) error
}

// DynamoAPI is the subset of *dynamodb.Client used by DynamoTokenStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// tokenItem is the DynamoDB row. Both tokens are stored encrypted; expires_at is
// unix milliseconds so the compare-and-swap condition is an exact number match.
type tokenItem struct {
	Slot         string    `dynamodbav:"slot"`
	AccessToken  string    `dynamodbav:"access_token"`
	RefreshToken string    `dynamodbav:"refresh_token"`
	TokenType    string    `dynamodbav:"token_type"`
	ExpiresAt    int64     `dynamodbav:"expires_at"`
	UpdatedAt    time.Time `dynamodbav:"updated_at"`
}

// DynamoTokenStore keeps the token record in DynamoDB, encrypted with enc.
type DynamoTokenStore struct {
	client    DynamoAPI
	tableName string
	enc       crypto.Encryptor
	slot      string
}

func NewDynamoTokenStore(client DynamoAPI, tableName string, enc crypto.Encryptor) *DynamoTokenStore {
	return &DynamoTokenStore{
		client:    client,
		tableName: tableName,
		enc:       enc,
		slot:      model.TokenSlot,
	}
}

func (s *DynamoTokenStore) Load(ctx context.Context) (*model.TokenRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"slot": &types.AttributeValueMemberS{Value: s.slot},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get token record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNoToken
	}

	var item tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}

	access, err := s.enc.Decrypt(ctx, item.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.enc.Decrypt(ctx, item.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &model.TokenRecord{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    item.TokenType,
		ExpiresAt:    time.UnixMilli(item.ExpiresAt),
		UpdatedAt:    item.UpdatedAt,
	}, nil
}

func (s *DynamoTokenStore) Save(ctx context.Context, rec model.TokenRecord) error {
	input, err := s.putInput(ctx, rec)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}
	return nil
}

func (s *DynamoTokenStore) SaveIfUnchanged(ctx context.Context, rec model.TokenRecord, prevExpiresAt time.Time) error {
	input, err := s.putInput(ctx, rec)
	if err != nil {
		return err
	}
	input.ConditionExpression = aws.String("expires_at = :prev")
	input.ExpressionAttributeValues = map[string]types.AttributeValue{
		":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prevExpiresAt.UnixMilli(), 10)},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrTokenConflict
		}
		return fmt.Errorf("failed to save token record: %w", err)
	}
	return nil
}

func (s *DynamoTokenStore) putInput(ctx context.Context, rec model.TokenRecord) (*dynamodb.PutItemInput, error) {
	access, err := s.enc.Encrypt(ctx, rec.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(ctx, rec.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	item, err := attributevalue.MarshalMap(tokenItem{
		Slot:         s.slot,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    rec.TokenType,
		ExpiresAt:    rec.ExpiresAt.UnixMilli(),
		UpdatedAt:    rec.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token record: %w", err)
	}

	return &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}, nil
}

// MemoryTokenStore keeps the record in process. Used in DEV_MODE and tests.
type MemoryTokenStore struct {
	mu  sync.Mutex
	rec *model.TokenRecord
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(ctx context.Context) (*model.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, ErrNoToken
	}
	rec := *s.rec
	return &rec, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, rec model.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}

func (s *MemoryTokenStore) SaveIfUnchanged(ctx context.Context, rec model.TokenRecord, prevExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil || !s.rec.ExpiresAt.Equal(prevExpiresAt) {
		return ErrTokenConflict
	}
	s.rec = &rec
	return nil
}
