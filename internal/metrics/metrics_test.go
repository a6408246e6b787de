package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(SessionsStarted.WithLabelValues("stress-check"))
	SessionsStarted.WithLabelValues("stress-check").Inc()
	if got := testutil.ToFloat64(SessionsStarted.WithLabelValues("stress-check")); got != before+1 {
		t.Fatalf("sessions started = %v, want %v", got, before+1)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	AutosaveWrites.WithLabelValues("written").Inc()
	ObserveRequest(http.MethodGet, http.StatusOK, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"mindwell_autosave_writes_total", "mindwell_http_request_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
