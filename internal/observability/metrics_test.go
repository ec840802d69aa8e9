package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/delphyctl/internal/testutil/testlog"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("delphyctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordCommand("RUN_SCRIPT", "done", 40*time.Millisecond)
	RecordTelemetryWait("ack", "matched", 20*time.Millisecond)
	RecordFrame("in", "ACK")
	RecordDecodeError("invalid_sync")
}

func TestUnknownFrameTypesShareOneLabel(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	before := promtest.ToFloat64(framesTotal.WithLabelValues("in", "UNKNOWN"))
	RecordFrame("in", "UNKNOWN(77)")
	RecordFrame("in", "UNKNOWN(4294967295)")
	if got := promtest.ToFloat64(framesTotal.WithLabelValues("in", "UNKNOWN")) - before; got != 2 {
		t.Fatalf("expected 2 frames under UNKNOWN, got %v", got)
	}
	for _, lv := range []string{"UNKNOWN(77)", "UNKNOWN(4294967295)"} {
		if framesTotal.DeleteLabelValues("in", lv) {
			t.Fatalf("label %q must not exist", lv)
		}
	}
}

func TestAdminServerHealthAndMetrics(t *testing.T) {
	logger := testlog.Start(t)
	admin := NewAdminServer("delphyctl", logger, func() Health {
		return Health{Connected: true, SessionID: "abc", State: "IDLE"}
	})
	router := admin.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
	var h Health
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if h.Status != "ok" || !h.Connected || h.SessionID != "abc" {
		t.Fatalf("unexpected health %+v", h)
	}

	RecordFrame("out", "SCRIPT")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "delphy_link_frames_total") {
		t.Fatalf("metrics output missing frames counter")
	}
}

func TestAdminServerCORS(t *testing.T) {
	logger := testlog.Start(t)
	router := NewAdminServer("delphyctl", logger, nil, "http://dash.local").Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Fatalf("allowed origin not echoed: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign origin status=%d", rec.Code)
	}
}
