// Package integration drives full load runs against a live stub service.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatload/internal/app"
	"chatload/internal/config"
	"chatload/internal/stub"
)

// startStub listens on an ephemeral port and stops with the test
func startStub(t *testing.T) *stub.Server {
	t.Helper()

	server, err := stub.NewServer(stub.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create stub: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start stub: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			t.Logf("Failed to stop stub: %v", err)
		}
	})
	return server
}

// runConfig targets server with short, bounded settings and a per-test run history
func runConfig(t *testing.T, server *stub.Server, vus, iterations int) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Target.BaseURL = server.URL()
	cfg.Target.RequestTimeout = 5 * time.Second
	cfg.Load.VirtualUsers = vus
	cfg.Load.Iterations = iterations
	cfg.Load.Duration = 10 * time.Second
	cfg.Load.HTTPThinkTime = 0
	cfg.Load.WSThinkTime = 0
	cfg.WebSocket.SessionTimeout = 500 * time.Millisecond
	cfg.WebSocket.HandshakeTimeout = 500 * time.Millisecond
	cfg.Database.Path = filepath.Join(t.TempDir(), "runs.db")
	cfg.Log.Level = "error"
	return cfg
}

func newApplication(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()

	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	t.Cleanup(func() {
		if err := application.Stop(context.Background()); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})
	return application
}
