package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metamarket.backend/internal/domain/entities"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMetrics_PurchaseLifecycle(t *testing.T) {
	m := New()

	m.AttemptStarted()
	m.AttemptStarted()
	assert.Contains(t, scrape(t, m), "metamarket_purchase_attempts_in_flight 2")

	m.AttemptFinished(entities.PurchaseStateDone, "", 3*time.Second)
	m.AttemptFinished(entities.PurchaseStateFailed, "NO_ROUTE_FOUND", time.Second)
	m.BridgeExecuted(59144, 8453)

	body := scrape(t, m)
	assert.Contains(t, body, "metamarket_purchase_attempts_started_total 2")
	assert.Contains(t, body, "metamarket_purchase_attempts_in_flight 0")
	assert.Contains(t, body, `metamarket_purchase_attempts_finished_total{code="NO_ROUTE_FOUND",state="FAILED"} 1`)
	assert.Contains(t, body, `metamarket_bridge_transfers_total{from_chain="59144",to_chain="8453"} 1`)
	assert.Contains(t, body, `metamarket_purchase_attempt_duration_seconds_count{state="DONE"} 1`)
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/v1/products/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/api/v1/products/1", "/api/v1/products/2", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `metamarket_http_requests_total{method="GET",route="/api/v1/products/:id",status="200"} 2`)
	assert.Contains(t, body, `metamarket_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
