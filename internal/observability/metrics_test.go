package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	body := scrape(t, NewMetrics())
	if !strings.Contains(body, "milkround_billing_ambiguous_resolutions_total") {
		t.Fatalf("expected body to contain billing counters, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "milkround_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "milkround_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestBillingMetricsRecordAlarmsAndTransitions(t *testing.T) {
	metrics := NewMetrics()
	billing := metrics.Billing()
	billing.AddAmbiguous(3)
	billing.IntegrityAlarm("split")
	billing.Transition("confirm", "applied")
	billing.CacheLookup(true)

	body := scrape(t, metrics)
	for _, want := range []string{
		"milkround_billing_ambiguous_resolutions_total 3",
		"milkround_billing_integrity_alarms_total{operation=\"split\"} 1",
		"milkround_billing_invoice_transitions_total{event=\"confirm\",result=\"applied\"} 1",
		"milkround_billing_totals_cache_total{result=\"hit\"} 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape, got: %s", want, body)
		}
	}
}

func TestNilBillingMetricsAreSafe(t *testing.T) {
	var billing *BillingMetrics
	billing.AddAmbiguous(1)
	billing.IntegrityAlarm("split")
	billing.Transition("confirm", "noop")
	billing.CacheLookup(false)
}
