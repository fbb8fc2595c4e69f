package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"settlement-engine/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecordQueueDepth(t *testing.T) {
	RecordQueueDepth([]domain.QueueDepth{
		{Priority: domain.PriorityHigh, Queued: 3, Processing: 1, Retrying: 2},
	})

	assert.Equal(t, float64(3), testutil.ToFloat64(QueueDepth.WithLabelValues("high", "queued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(QueueDepth.WithLabelValues("high", "processing")))
	assert.Equal(t, float64(2), testutil.ToFloat64(QueueDepth.WithLabelValues("high", "retrying")))
}

func TestRecordReconciliation(t *testing.T) {
	c := ReconciliationEventsTotal.WithLabelValues("refund_failed", "true")
	before := testutil.ToFloat64(c)

	RecordReconciliation(domain.NewReconciliationEvent(nil, domain.ReconRefundFailed, true, nil))
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `settlement_http_requests_total{method="GET",path="/ping",status="200"}`))
}
