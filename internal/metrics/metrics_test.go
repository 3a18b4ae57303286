package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/clipship/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Version: "test"})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)
	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `clipship_build_info{version="test"} 1`) {
		t.Fatalf("expected clipship_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_ExposesPipelineMetrics(t *testing.T) {
	p := Init(Config{})

	observability.ObserveUpstream("query", nil, 0.05)
	observability.ObserveUpstream("export", errors.New("boom"), 2)
	observability.IncItem("clip", "error")
	observability.IncCacheHit("lru")
	observability.ObserveCacheOp("get", nil, 0.001)

	body := scrape(t, p)
	for _, want := range []string{
		`clipship_upstream_requests_total{op="query",outcome="ok"}`,
		`clipship_upstream_requests_total{op="export",outcome="error"}`,
		`clipship_items_total{outcome="error",stage="clip"}`,
		`clipship_cache_results_total{outcome="hit",tier="lru"}`,
		`clipship_cache_op_seconds_count{op="get",outcome="ok"}`,
		`clipship_build_info{version="dev"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", want, body)
		}
	}
}
