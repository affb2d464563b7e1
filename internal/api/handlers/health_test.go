package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	status, message string
}

func (s stubChecker) CheckReady() (string, string) { return s.status, s.message }

type stubDeps map[string]bool

func (s stubDeps) Health() map[string]bool { return s }

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"хранилище доступно", stubChecker{"ok", "подключение активно"}, http.StatusOK, "ok"},
		{"хранилище деградировало", stubChecker{"degraded", "медленно"}, http.StatusOK, "degraded"},
		{"хранилище недоступно", stubChecker{"fail", "нет соединения"}, http.StatusServiceUnavailable, "fail"},
		{"хранилище не настроено", nil, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker, stubDeps{"jira:example.atlassian.net:443": true})
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("некорректный JSON: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status = %q, хотели %q", resp.Status, tt.wantBody)
			}
			if !resp.Checks.Dependencies["jira:example.atlassian.net:443"] {
				t.Error("нет состояния зависимостей в ответе")
			}
		})
	}
}

func TestServerStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil, nil).ServerStatus(rec, httptest.NewRequest(http.MethodGet, "/serverStatus", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp healthLiveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("некорректный JSON: %v", err)
	}
	if resp.Status != "ok" || resp.Service != serviceName || resp.Timestamp == "" {
		t.Errorf("неожиданный ответ: %+v", resp)
	}
}
