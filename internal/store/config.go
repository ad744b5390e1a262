package store

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode             DynamoMode
	Endpoint         string // for local mode
	Region           string
	AssignmentsTable string
	LotteryTable     string
	CursorsTable     string
}

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnv("DYNAMO_MODE", "none"))
	if mode != DynamoModeLocal && mode != DynamoModeAWS {
		mode = DynamoModeNone
	}

	return DynamoConfig{
		Mode:             mode,
		Endpoint:         getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:           getEnv("DYNAMO_REGION", "eu-central-1"),
		AssignmentsTable: getEnv("DYNAMO_ASSIGNMENTS_TABLE", "troia-assignments"),
		LotteryTable:     getEnv("DYNAMO_LOTTERY_TABLE", "troia-lottery-results"),
		CursorsTable:     getEnv("DYNAMO_CURSORS_TABLE", "troia-strategy-cursors"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
