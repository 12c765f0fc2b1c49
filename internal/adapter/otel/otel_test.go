package otel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	hfotel "github.com/harnessforge/harnessforge/internal/adapter/otel"
	"github.com/harnessforge/harnessforge/internal/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := hfotel.Init(context.Background(), config.OTel{ServiceName: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := hfotel.NewMetricsWith(mp)
	if err != nil {
		t.Fatalf("NewMetricsWith: %v", err)
	}

	ctx := context.Background()
	m.Compiles.Add(ctx, 1, metric.WithAttributes(attribute.String("category", "CodeError")))
	m.Compiles.Add(ctx, 2, metric.WithAttributes(attribute.String("category", "Success")))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "harnessforge.compiles" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 3 {
		t.Fatalf("compiles total = %d, want 3", total)
	}
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := hfotel.HTTPMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
