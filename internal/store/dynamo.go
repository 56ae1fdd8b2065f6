package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoResultStore.
type DynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoResultStore keeps results in a table keyed by filingId.
type DynamoResultStore struct {
	client    DynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewDynamoResultStore(client DynamoAPI, tableName string, logger *logging.Logger) *DynamoResultStore {
	if client == nil {
		panic("store: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("store: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoResultStore{client: client, tableName: tableName, logger: logger}
}

func (s *DynamoResultStore) Save(ctx context.Context, res lca.FilingResult) error {
	if res.FilingID == "" {
		return errors.New("store: filing id required")
	}
	item, err := attributevalue.MarshalMap(res)
	if err != nil {
		return fmt.Errorf("store: marshal filing result: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("store: put filing result: %w", err)
	}
	return nil
}

func (s *DynamoResultStore) Get(ctx context.Context, filingID string) (lca.FilingResult, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"filingId": &types.AttributeValueMemberS{Value: filingID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return lca.FilingResult{}, fmt.Errorf("store: get filing result: %w", err)
	}
	if len(out.Item) == 0 {
		return lca.FilingResult{}, ErrNotFound
	}
	var res lca.FilingResult
	if err := attributevalue.UnmarshalMap(out.Item, &res); err != nil {
		return lca.FilingResult{}, fmt.Errorf("store: unmarshal filing result: %w", err)
	}
	return res, nil
}

// List scans up to limit items. Dynamo gives no ordering on a scan, so the
// page is sorted by start time after it is read.
func (s *DynamoResultStore) List(ctx context.Context, limit int) ([]lca.FilingResult, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		Limit:     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan filing results: %w", err)
	}
	results := make([]lca.FilingResult, 0, len(out.Items))
	for _, item := range out.Items {
		var res lca.FilingResult
		if err := attributevalue.UnmarshalMap(item, &res); err != nil {
			s.logger.Warn("skipping undecodable filing result", "error", err)
			continue
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StartedAt.After(results[j].StartedAt) })
	return results, nil
}
