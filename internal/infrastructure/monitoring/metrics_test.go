package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond, 0, 0)
		m.RecordWSMessage("in", "chat")
		m.IncWSDeliveryFailures()
		m.IncWSConnections()
		m.DecWSConnections()
		m.RecordTerminalStart("basic", "ok")
		m.SetTerminalsActive("basic", 1)
		m.RecordAssistantResponse("stream", "ok", time.Second)
		m.IncAssistantChunks()
		m.SetBreakerState("assistant", 2)
		m.RecordGRPCCall("/grpc.health.v1.Health/Check", "OK", time.Millisecond)
		NewTimer(m, "stream").Stop("ok")
	})
	assert.Nil(t, m.Registry())
}

func TestIsolatedRegistries(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.IncWSConnections()
	a.IncWSConnections()
	b.IncWSConnections()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.WSConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.WSConnections))
}

func TestTerminalAndAssistantMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTerminalStart("assisted", "denied")
	m.SetTerminalsActive("basic", 3)
	m.RecordAssistantResponse("stream", "ok", 2*time.Second)
	m.IncAssistantChunks()
	m.IncAssistantChunks()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TerminalStarts.WithLabelValues("assisted", "denied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TerminalsActive.WithLabelValues("basic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssistantStreams.WithLabelValues("stream", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AssistantChunks))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/terminals/:session_id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, sid := range []string{"a", "b", "c"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/terminals/"+sid, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/terminals/:session_id", "200")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "webterm_http_requests_total"))
	assert.True(t, strings.Contains(body, "webterm_uptime_seconds"))
}
