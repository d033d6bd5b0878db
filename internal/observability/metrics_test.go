package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, metricsReq)

	body := metricsRec.Body.String()
	if !strings.Contains(body, "einvois_http_requests_total") {
		t.Fatalf("expected request counter in metrics output, got:\n%s", body)
	}
	if !strings.Contains(body, `code="418"`) {
		t.Fatalf("expected recorded status code in metrics output")
	}
}

func TestObservePass(t *testing.T) {
	m := NewMetrics()
	m.ObservePass("submit", 3, 1, 2, 50*time.Millisecond)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, metricsReq)

	body := metricsRec.Body.String()
	if !strings.Contains(body, `einvois_pass_documents_total{outcome="advanced",pass="submit"} 3`) {
		t.Fatalf("expected pass counter in metrics output, got:\n%s", body)
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	m.ObservePass("poll", 0, 0, 0, 0)
}
