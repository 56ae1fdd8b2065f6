package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/internal/store"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Result store backends selectable through RESULT_STORE.
const (
	ResultStoreAuto     = "auto"
	ResultStorePostgres = "postgres"
	ResultStoreDynamo   = "dynamodb"
	ResultStoreMemory   = "memory"
)

// BuildResultStore picks the terminal-result backend. "auto" prefers
// Postgres, then DynamoDB when a client is available, then memory.
func BuildResultStore(cfg *appconfig.Config, sqlDB *sql.DB, dynamo store.DynamoAPI, logger *logging.Logger) (store.ResultStore, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	choice := cfg.ResultStore
	if choice == "" || choice == ResultStoreAuto {
		switch {
		case sqlDB != nil:
			choice = ResultStorePostgres
		case dynamo != nil && cfg.FilingResultsTable != "":
			choice = ResultStoreDynamo
		default:
			choice = ResultStoreMemory
		}
	}

	switch choice {
	case ResultStorePostgres:
		if sqlDB == nil {
			return nil, "", fmt.Errorf("bootstrap: RESULT_STORE=postgres requires DATABASE_URL")
		}
		return store.NewSQLResultStore(sqlDB), choice, nil
	case ResultStoreDynamo:
		if dynamo == nil {
			return nil, "", fmt.Errorf("bootstrap: RESULT_STORE=dynamodb requires an AWS client")
		}
		return store.NewDynamoResultStore(dynamo, cfg.FilingResultsTable, logger), choice, nil
	case ResultStoreMemory:
		logger.Warn("filing results are kept in memory only")
		return store.NewMemoryResultStore(), choice, nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown RESULT_STORE %q", choice)
	}
}

var _ store.DynamoAPI = (*dynamodb.Client)(nil)
