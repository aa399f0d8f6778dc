package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn_IncrementsCounterAndHistogram(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordTurn("completed", 1.5)
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed turn, got %v", got)
	}
}

func TestRecordLLMRequest_SkipsZeroTokenCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordLLMRequest("openai", "gpt-4o", "success", 0.8, 0, 0)
	if got := testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "success")); got != 1 {
		t.Errorf("expected 1 request recorded, got %v", got)
	}
	if n := testutil.CollectAndCount(m.LLMTokensTotal); n != 0 {
		t.Errorf("expected no token series for zero counts, got %d", n)
	}
}

func TestRecordApproval_TracksDecision(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordApproval("denied")
	if got := testutil.ToFloat64(m.ApprovalsTotal.WithLabelValues("denied")); got != 1 {
		t.Errorf("expected 1 denial recorded, got %v", got)
	}
}

func TestRecordCompression_RecordsEachPass(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordCompression(2, 1, 0, 0, 3)
	if got := testutil.ToFloat64(m.CompressionDropped.WithLabelValues("stale_read")); got != 2 {
		t.Errorf("expected 2 stale reads dropped, got %v", got)
	}
	if got := testutil.ToFloat64(m.CompressionDropped.WithLabelValues("unpaired")); got != 3 {
		t.Errorf("expected 3 unpaired dropped, got %v", got)
	}
}

func TestSetMCPServerActive_TogglesGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetMCPServerActive("csv-tool", true)
	if got := testutil.ToFloat64(m.MCPServersActive.WithLabelValues("csv-tool")); got != 1 {
		t.Errorf("expected gauge 1 when active, got %v", got)
	}
	m.SetMCPServerActive("csv-tool", false)
	if got := testutil.ToFloat64(m.MCPServersActive.WithLabelValues("csv-tool")); got != 0 {
		t.Errorf("expected gauge 0 when inactive, got %v", got)
	}
}
