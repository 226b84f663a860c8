package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FrameComposed(time.Millisecond)
	m.OutputFrameDropped("out")
	m.SetOutputStatus("out", "live", []string{"live"})
	m.ScreenshotTaken("ok")
	m.VolmeterDropped(3)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestOutputStatusGauge(t *testing.T) {
	m := New()
	all := []string{"idle", "live", "degraded"}

	m.SetOutputStatus("main", "live", all)
	m.OutputFrameDropped("main")
	m.OutputFrameDropped("main")

	body := scrape(t, m)
	for _, want := range []string{
		`compositor_output_status{output="main",status="live"} 1`,
		`compositor_output_status{output="main",status="degraded"} 0`,
		`compositor_output_frames_dropped_total{output="main"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	m.DeleteOutput("main", all)
	if body := scrape(t, m); strings.Contains(body, `output="main"`) {
		t.Error("output series remain after delete")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.FrameComposed(2 * time.Millisecond)
	m.ScreenshotTaken("ok")

	body := scrape(t, m)
	for _, want := range []string{
		"compositor_engine_frames_composed_total 1",
		`compositor_capture_screenshots_total{result="ok"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
