package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/notify"
	"github.com/wolfman30/lca-filing-automation/internal/store"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

func quietLogger() *logging.Logger { return logging.New("error") }

func TestBuildRedisClient(t *testing.T) {
	t.Run("disabled without address", func(t *testing.T) {
		assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, quietLogger(), true))
	})

	t.Run("verified against a live server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
		require.NotNil(t, client)
		t.Cleanup(func() { _ = client.Close() })
		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("unreachable server returns nil", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, quietLogger(), true))
	})
}

func TestBuildResultStore(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cases := []struct {
		name    string
		cfg     appconfig.Config
		withDB  bool
		want    string
		wantErr bool
	}{
		{name: "auto prefers postgres", cfg: appconfig.Config{ResultStore: "auto"}, withDB: true, want: ResultStorePostgres},
		{name: "auto falls back to memory", cfg: appconfig.Config{ResultStore: "auto"}, want: ResultStoreMemory},
		{name: "explicit memory", cfg: appconfig.Config{ResultStore: "memory"}, withDB: true, want: ResultStoreMemory},
		{name: "postgres without database", cfg: appconfig.Config{ResultStore: "postgres"}, wantErr: true},
		{name: "dynamodb without client", cfg: appconfig.Config{ResultStore: "dynamodb", FilingResultsTable: "t"}, wantErr: true},
		{name: "unknown backend", cfg: appconfig.Config{ResultStore: "etcd"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			var sqlDB = db
			if !tc.withDB {
				sqlDB = nil
			}
			rs, backend, err := BuildResultStore(&cfg, sqlDB, nil, quietLogger())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, backend)
			assert.NotNil(t, rs)
		})
	}

	_, _, err = BuildResultStore(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestResolveProvider(t *testing.T) {
	cases := []struct {
		name string
		cfg  appconfig.Config
		want string
	}{
		{"explicit", appconfig.Config{LLMProvider: "Bedrock"}, ProviderBedrock},
		{"auto with openai key", appconfig.Config{LLMProvider: "auto", OpenAIAPIKey: "sk", GeminiAPIKey: "g"}, ProviderOpenAI},
		{"auto with bedrock model", appconfig.Config{BedrockModelID: "anthropic.x"}, ProviderBedrock},
		{"auto with gemini key", appconfig.Config{GeminiAPIKey: "g"}, ProviderGemini},
		{"auto with nothing", appconfig.Config{}, ProviderNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			assert.Equal(t, tc.want, resolveProvider(&cfg))
		})
	}
}

func TestBuildOracle(t *testing.T) {
	ctx := context.Background()

	orc, closer, err := BuildOracle(ctx, &appconfig.Config{LLMProvider: "none"}, aws.Config{}, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, orc)
	assert.NoError(t, closer())

	_, _, err = BuildOracle(ctx, &appconfig.Config{LLMProvider: "openai"}, aws.Config{}, quietLogger())
	assert.Error(t, err, "openai without a key must fail")

	_, _, err = BuildOracle(ctx, &appconfig.Config{LLMProvider: "bedrock"}, aws.Config{}, quietLogger())
	assert.Error(t, err, "bedrock without a model must fail")

	_, _, err = BuildOracle(ctx, &appconfig.Config{LLMProvider: "palm"}, aws.Config{}, quietLogger())
	assert.Error(t, err)

	orc, closer, err = BuildOracle(ctx, &appconfig.Config{
		LLMProvider:       "openai",
		OpenAIAPIKey:      "sk-test",
		OpenAIModel:       "gpt-4o",
		OracleMaxAttempts: 2,
		OracleRatePerSec:  1,
		OracleBurst:       1,
	}, aws.Config{}, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, orc)
	assert.NoError(t, closer())
}

func TestBuildEmailSender(t *testing.T) {
	awsCfg := &aws.Config{Region: "us-east-1"}

	_, provider := BuildEmailSender(&appconfig.Config{SendGridAPIKey: "SG.x", EmailFromAddress: "lca@acme.example"}, awsCfg, quietLogger())
	assert.Equal(t, "sendgrid", provider)

	_, provider = BuildEmailSender(&appconfig.Config{EmailFromAddress: "lca@acme.example"}, awsCfg, quietLogger())
	assert.Equal(t, "ses", provider)

	sender, provider := BuildEmailSender(&appconfig.Config{}, nil, quietLogger())
	assert.Equal(t, "stub", provider)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	_, provider = BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid"}, nil, quietLogger())
	assert.Equal(t, "stub", provider, "sendgrid without a key degrades to stub")
}

func TestBuildFilingRuntimeInMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
	require.NotNil(t, redisClient)
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &appconfig.Config{
		PortalURL:            "https://flag.dol.gov/",
		BrowserSidecarURL:    "http://127.0.0.1:1",
		MaxBrowserSessions:   1,
		SessionIdleTimeout:   time.Minute,
		StepTimeout:          time.Second,
		MaxInteractionRounds: 2,
		MaxConcurrentFilings: 1,
		LLMProvider:          "none",
		ResultStore:          "memory",
		UseMemoryQueue:       true,
		WorkerCount:          1,
	}
	rt, err := BuildFilingRuntime(context.Background(), cfg, Infra{
		Redis:      redisClient,
		Registerer: prometheus.NewRegistry(),
	}, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, ResultStoreMemory, rt.ResultStore)
	assert.NotNil(t, rt.Service)
	assert.NotNil(t, rt.Dispatcher, "memory queue enables the dispatcher")
	assert.Nil(t, rt.Deliverer, "outbox needs postgres")

	// A filing that fails validation never touches the browser sidecar.
	res := rt.Service.FileApplication(context.Background(), lca.Application{ID: "app-empty"})
	assert.Equal(t, lca.StatusValidationFailed, res.Status)

	stored, err := rt.Service.GetResult(context.Background(), res.FilingID)
	require.NoError(t, err)
	assert.Equal(t, res.Status, stored.Status)

	// Progress reached Redis through the snapshot observer.
	assert.True(t, mr.Exists("lca:progress:"+res.FilingID))

	_, err = rt.Service.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	assert.NoError(t, rt.Close(closeCtx))
}
