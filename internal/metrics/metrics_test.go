package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRuns(t *testing.T) {
	ObserveRun("maestro", "ok", 1500*time.Millisecond, 42)
	ObserveRun("pagos", "error", time.Second, 0)
	ObserveRequest("/healthz", 200)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `cartera_runs_total{kind="maestro",status="ok"} 1`)
	assert.Contains(t, text, `cartera_runs_total{kind="pagos",status="error"} 1`)
	assert.Contains(t, text, `cartera_run_records{kind="maestro"} 42`)
	assert.NotContains(t, text, `cartera_run_records{kind="pagos"}`)
	assert.Contains(t, text, `cartera_http_requests_total{code="200",route="/healthz"} 1`)
}
