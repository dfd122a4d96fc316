package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.TurnCompleted("done")
	m.TurnCompleted("done")
	m.TurnCompleted("error")
	m.BusyRejected()
	m.StreamDecodeError("openai")
	m.ChannelMessage("telegram", "inbound")
	m.ChannelMessage("telegram", "outbound")
	m.ChannelMessage("telegram", "outbound")

	expected := `
		# HELP agentbridge_turns_total Total number of conversation turns by outcome
		# TYPE agentbridge_turns_total counter
		agentbridge_turns_total{outcome="done"} 2
		agentbridge_turns_total{outcome="error"} 1
	`
	if err := testutil.CollectAndCompare(m.TurnsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected turns: %v", err)
	}
	if got := testutil.ToFloat64(m.BusyRejections); got != 1 {
		t.Errorf("busy rejections = %v", got)
	}
	if got := testutil.ToFloat64(m.StreamDecodeErrors.WithLabelValues("openai")); got != 1 {
		t.Errorf("decode errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ChannelMessages.WithLabelValues("telegram", "outbound")); got != 2 {
		t.Errorf("outbound messages = %v", got)
	}
}

func TestMetrics_ToolInvoked(t *testing.T) {
	m := NewMetrics()
	m.ToolInvoked("add-memory", "ok", 20*time.Millisecond)
	m.ToolInvoked("add-memory", "error", time.Second)

	if got := testutil.ToFloat64(m.ToolInvocations.WithLabelValues("add-memory", "ok")); got != 1 {
		t.Errorf("ok invocations = %v", got)
	}
	if count := testutil.CollectAndCount(m.ToolDuration); count != 1 {
		t.Errorf("expected one histogram series, got %d", count)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.BusyRejected()
	if got := testutil.ToFloat64(b.BusyRejections); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}

func TestServer_Endpoints(t *testing.T) {
	m := NewMetrics()
	m.TurnCompleted("done")
	srv := httptest.NewServer(NewServer(":0", m, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	var body strings.Builder
	if _, err := io.Copy(&body, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(body.String(), `agentbridge_turns_total{outcome="done"} 1`) {
		t.Fatalf("metrics output missing turn counter:\n%s", body.String())
	}
}
