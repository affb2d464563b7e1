package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newJiraStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"state":"RUNNING"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDephealthService_JiraOnly(t *testing.T) {
	srv := newJiraStatusServer(t)

	ds, err := NewDephealthService(DephealthConfig{
		ServiceID:     "test-assistant-01",
		Group:         "test-assistant",
		JiraURL:       srv.URL,
		CheckInterval: 5 * time.Second,
		Registerer:    prometheus.NewRegistry(),
	}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}
	if ds == nil {
		t.Fatal("DephealthService nil")
	}
}

func TestDephealthService_StartStop(t *testing.T) {
	srv := newJiraStatusServer(t)

	ds, err := NewDephealthService(DephealthConfig{
		ServiceID:     "test-assistant-02",
		Group:         "test-assistant",
		JiraURL:       srv.URL,
		CheckInterval: 1 * time.Second,
		IsEntry:       true,
		Registerer:    prometheus.NewRegistry(),
	}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start не должен блокировать
	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}

	_ = ds.Health()
	ds.Stop()
}
