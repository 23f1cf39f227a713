package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/tasks/{task_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/tasks", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/tasks/t1", nil),
		httptest.NewRequest(http.MethodGet, "/v1/tasks/t2", nil),
		httptest.NewRequest(http.MethodPost, "/v1/tasks", nil),
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
	}

	// Both GETs land on one route pattern, so the counter aggregates them.
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	require.GreaterOrEqual(t, got, 2.0)
	got = testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "201"))
	require.GreaterOrEqual(t, got, 1.0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
