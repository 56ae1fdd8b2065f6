package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/lca-filing-automation/internal/app/bootstrap"
	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestHealthChecks(t *testing.T) {
	sidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","browser_ready":true}`))
	}))
	defer sidecar.Close()

	cfg := &appconfig.Config{
		BrowserSidecarURL:  sidecar.URL,
		MaxBrowserSessions: 1,
		SessionIdleTimeout: time.Minute,
		StepTimeout:        time.Second,
		LLMProvider:        "none",
		ResultStore:        "memory",
	}
	rt, err := bootstrap.BuildFilingRuntime(context.Background(), cfg, bootstrap.Infra{Registerer: prometheus.NewRegistry()}, logging.New("error"))
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer func() { _ = rt.Close(context.Background()) }()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	checks := healthChecks(rt, db)
	if len(checks) != 2 {
		t.Fatalf("expected browser and database checks, got %d", len(checks))
	}
	if err := checks["browser"](context.Background()); err != nil {
		t.Fatalf("browser check: %v", err)
	}
	if err := checks["database"](context.Background()); err != nil {
		t.Fatalf("database check: %v", err)
	}
	if _, ok := healthChecks(rt, nil)["database"]; ok {
		t.Fatalf("expected no database check without a database")
	}
}
