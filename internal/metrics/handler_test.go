package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fountain/internal/model"
)

// TestHandler_ServesPrometheusFormat はハンドラーがテキスト形式でメトリクスを返すことを検証する。
func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.EntryAdmitted(model.QueueEntry{ID: "a"})
	TrackQueueLength(reg, func() int { return 4 })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	for _, name := range []string{"fountain_checkins_total 1", "fountain_queue_length 4"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("response should contain %q", name)
		}
	}
}
