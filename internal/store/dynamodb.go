package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// DynamoBackend implements Backend using AWS DynamoDB
type DynamoBackend struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoBackend creates a new DynamoDB backend
func NewDynamoBackend(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoBackend, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	backend := &DynamoBackend{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB backend initialized")

	return backend, nil
}

func (s *DynamoBackend) PutAssignment(ctx context.Context, a types.Assignment) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assignment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.AssignmentsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *DynamoBackend) GetAssignment(ctx context.Context, id string) (*types.Assignment, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.AssignmentsTable),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var a types.Assignment
	if err := attributevalue.UnmarshalMap(result.Item, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignment: %w", err)
	}
	return &a, nil
}

func (s *DynamoBackend) ActiveAssignment(ctx context.Context, rt types.ResourceType, resourceID string) (*types.Assignment, error) {
	filter := expression.Name("resourceType").Equal(expression.Value(string(rt))).
		And(expression.Name("resourceId").Equal(expression.Value(resourceID))).
		And(expression.Name("status").In(
			expression.Value(string(types.StatusPending)),
			expression.Value(string(types.StatusAssigned)),
			expression.Value(string(types.StatusAccepted)),
		))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.AssignmentsTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan active assignments: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	var a types.Assignment
	if err := attributevalue.UnmarshalMap(result.Items[0], &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignment: %w", err)
	}
	return &a, nil
}

func (s *DynamoBackend) AssignmentsByDate(ctx context.Context, dateKey string) ([]types.Assignment, error) {
	filter := expression.Name("dateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.AssignmentsTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignments by date: %w", err)
	}

	var assignments []types.Assignment
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &assignments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignments: %w", err)
	}
	return assignments, nil
}

func (s *DynamoBackend) PutLotteryResult(ctx context.Context, r types.LotteryResult) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("failed to marshal lottery result: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.LotteryTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save lottery result: %w", err)
	}
	return nil
}

func (s *DynamoBackend) Cursor(ctx context.Context, scope string) (int, bool, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"scope": scope})
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal cursor key: %w", err)
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.CursorsTable),
		Key:       key,
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor: %w", err)
	}
	if result.Item == nil {
		return 0, false, nil
	}

	var row struct {
		Scope    string `dynamodbav:"scope"`
		Position string `dynamodbav:"position"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &row); err != nil {
		return 0, false, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	pos, err := strconv.Atoi(row.Position)
	if err != nil {
		return 0, false, fmt.Errorf("malformed cursor position %q: %w", row.Position, err)
	}
	return pos, true, nil
}

func (s *DynamoBackend) PutCursor(ctx context.Context, scope string, pos int) error {
	item, err := attributevalue.MarshalMap(map[string]string{
		"scope":    scope,
		"position": strconv.Itoa(pos),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.CursorsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// NewBackend creates the appropriate backend based on configuration
func NewBackend(ctx context.Context, logger zerolog.Logger) (Backend, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoBackend(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), using in-memory backend")
		return NewMemoryBackend(), nil
	}
}

// CreateTablesIfNotExist creates DynamoDB tables for local development
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, config DynamoConfig, logger zerolog.Logger) error {
	tables := []struct {
		name string
		pk   string
	}{
		{config.AssignmentsTable, "id"},
		{config.LotteryTable, "id"},
		{config.CursorsTable, "scope"},
	}

	for _, table := range tables {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table.name),
		})
		if err == nil {
			logger.Info().Str("table", table.name).Msg("table already exists")
			continue
		}

		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(table.name),
			KeySchema: []dbtypes.KeySchemaElement{
				{AttributeName: aws.String(table.pk), KeyType: dbtypes.KeyTypeHash},
			},
			AttributeDefinitions: []dbtypes.AttributeDefinition{
				{AttributeName: aws.String(table.pk), AttributeType: dbtypes.ScalarAttributeTypeS},
			},
			BillingMode: dbtypes.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}
		logger.Info().Str("table", table.name).Msg("table created")
	}

	return nil
}
