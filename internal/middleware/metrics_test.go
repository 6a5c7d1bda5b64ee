package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/smarbl/internal/metrics"
)

type httpRecorder struct {
	metrics.NopCollector
	statuses  []int
	latencies []time.Duration
}

func (r *httpRecorder) RecordHTTPStatus(code int)            { r.statuses = append(r.statuses, code) }
func (r *httpRecorder) RecordRequestLatency(d time.Duration) { r.latencies = append(r.latencies, d) }

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	rec := &httpRecorder{}
	handler := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/like", nil))

	if len(rec.statuses) != 1 || rec.statuses[0] != http.StatusConflict {
		t.Errorf("statuses = %v, want [409]", rec.statuses)
	}
	if len(rec.latencies) != 1 || rec.latencies[0] < 0 {
		t.Errorf("latencies = %v, want one non-negative value", rec.latencies)
	}
}

func TestMetricsMiddleware_ImplicitOK(t *testing.T) {
	rec := &httpRecorder{}
	handler := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(rec.statuses) != 1 || rec.statuses[0] != http.StatusOK {
		t.Errorf("statuses = %v, want [200]", rec.statuses)
	}
}
