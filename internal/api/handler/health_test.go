package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler_AllOK(t *testing.T) {
	h := NewHealthHandler("test", map[string]HealthCheck{
		"database":    func(context.Context) error { return nil },
		"claim_store": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var body struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.Status != "ok" {
		t.Errorf("unexpected status field: %s", body.Data.Status)
	}
	if body.Data.Services["database"] != "ok" || body.Data.Services["claim_store"] != "ok" {
		t.Errorf("unexpected services: %v", body.Data.Services)
	}
}

func TestHealthHandler_Degraded(t *testing.T) {
	h := NewHealthHandler("test", map[string]HealthCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unexpected status: %d", rec.Code)
	}
}

func TestHealthHandler_NoChecks(t *testing.T) {
	h := NewHealthHandler("test", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("unexpected status: %d", rec.Code)
	}
}

func TestRootHandler_ListsEndpoints(t *testing.T) {
	h := NewRootHandler("test")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var body struct {
		Data struct {
			Service   string            `json:"service"`
			Endpoints map[string]string `json:"endpoints"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.Service != "gtmdocs" {
		t.Errorf("unexpected service name: %s", body.Data.Service)
	}
	if body.Data.Endpoints["webhook"] == "" {
		t.Error("webhook endpoint not listed")
	}
}
