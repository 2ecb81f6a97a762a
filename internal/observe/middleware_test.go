package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_SpanAndCorrelationHeader(t *testing.T) {
	exp := useTestTracer(t)
	m, _ := newTestMetrics(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate", nil))

	if seen == "" {
		t.Fatal("handler context carries no trace")
	}
	if got := rec.Header().Get(CorrelationHeader); got != seen {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, seen)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("traceparent not injected into response")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP POST /api/translate" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("correlation = %q, want %q", got, traceID)
	}
}

func TestMiddleware_StatusAndDuration(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/library/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	h := Middleware(m)(mux)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/library/42", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	span := exp.GetSpans()[0]
	if span.Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status.Code)
	}

	met := findMetric(collect(t, reader), "voicelearn.http.request.duration")
	if met == nil {
		t.Fatal("duration metric missing")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	path, _ := hist.DataPoints[0].Attributes.Value("path")
	if path.AsString() != "/api/library/42" && !strings.Contains(path.AsString(), "{id}") {
		t.Errorf("path label = %q", path.AsString())
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)
	m, _ := newTestMetrics(t)

	h := Middleware(m, "/healthz")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/languages", nil))

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "path=/healthz") {
		t.Errorf("probe not logged at debug: %s", out)
	}
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "path=/api/languages") {
		t.Errorf("api request not logged at info: %s", out)
	}
}
