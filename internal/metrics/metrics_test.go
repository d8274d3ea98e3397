package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrderCreated("gateway")
	m.Transition("pending", "paid", "webhook")
	m.Webhook("applied")
	m.Webhook("applied")
	m.AmountMismatch()
	m.Credited(44000)
	m.ObserveGateway("create_session", errors.New("timeout"), 150*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "digibite_webhooks_total", "outcome", "applied"); err != nil {
		t.Fatalf("fetch webhooks: %v", err)
	} else if got != 2 {
		t.Fatalf("expected webhooks=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "digibite_orders_created_total", "method", "gateway"); err != nil {
		t.Fatalf("fetch orders: %v", err)
	} else if got != 1 {
		t.Fatalf("expected orders=1, got %f", got)
	}

	mf := findMetricFamily(mfs, "digibite_tenant_credited_amount_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 44000 {
		t.Fatalf("expected credited amount 44000")
	}

	if got, err := fetchHistogramCount(mfs, "digibite_gateway_request_duration_seconds", "outcome", "error"); err != nil {
		t.Fatalf("fetch gateway duration: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one gateway sample, got %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.OrderCreated("cash")
	m.Webhook("ignored")
	m.Credited(1)
	m.ObserveHTTP(http.MethodGet, "/", http.StatusOK, time.Millisecond)

	empty := New(nil)
	empty.Transition("pending", "paid", "manual")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without registry, got %d", rec.Code)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Withdrawal("approved")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "digibite_withdrawals_total") {
		t.Fatalf("expected withdrawals metric in output")
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramCount(mfs []*dto.MetricFamily, name, label, value string) (uint64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleCount(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
