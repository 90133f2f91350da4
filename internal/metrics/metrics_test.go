package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableTargetLabel: true})
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.sectorOpsTotal == nil {
		t.Error("sectorOpsTotal is nil")
	}
	if m.workerQueueDepth == nil {
		t.Error("workerQueueDepth is nil")
	}
}

func TestMetrics_RecordSectorOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableTargetLabel: true})

	m.RecordSectorOp("target0", "encrypt", 50*time.Microsecond, 512)
	m.RecordSectorOpError("target0", "decrypt", "io")
}

func TestMetrics_PoolDrawLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableTargetLabel: true})

	m.RecordPagePoolDraw("target0", true)
	m.RecordPagePoolDraw("target0", false)
	m.RecordRLOPoolDraw("target0", true)
	m.RecordRLOPoolDraw("target0", false)
}

func TestMetrics_TargetLabelDisabledCollapsesToStar(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableTargetLabel: false})

	m.RecordSectorOp("target0", "encrypt", time.Millisecond, 512)
	m.RecordSectorOp("target1", "encrypt", time.Millisecond, 512)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, `target="target0"`) || strings.Contains(body, `target="target1"`) {
		t.Error("per-target labels should collapse to \"*\" when EnableTargetLabel is false")
	}
	if !strings.Contains(body, `target="*"`) {
		t.Error("expected collapsed target label \"*\" in output")
	}
}

func TestMetrics_WorkerQueueAndAsyncGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableTargetLabel: true})

	m.SetWorkerQueueDepth("target0", 12)
	m.SetAsyncInFlight("target0", 3)
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableTargetLabel: true})

	m.RecordSectorOp("target0", "encrypt", 100*time.Millisecond, 512)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "blockcrypt_sector_ops_total") {
		t.Error("expected metrics output to contain blockcrypt_sector_ops_total")
	}
}
