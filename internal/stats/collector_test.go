package stats

import (
	"testing"
	"time"
)

func snap(age time.Duration, providerID, model string, latency float64, success bool) Snapshot {
	return Snapshot{
		Timestamp:        time.Now().UTC().Add(-age),
		ProviderID:       providerID,
		Model:            model,
		LatencyMs:        latency,
		CostUSD:          0.001,
		Success:          success,
		PromptTokens:     10,
		CompletionTokens: 5,
	}
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	c := NewCollector()
	c.Record(Snapshot{ProviderID: "p1", Model: "gpt-4o", Success: true})
	if c.SnapshotCount() != 1 {
		t.Fatalf("expected 1 snapshot, got %d", c.SnapshotCount())
	}

	g := c.Global()
	if len(g) != len(DefaultWindows()) {
		t.Fatalf("fresh snapshot should land in every window, got %d", len(g))
	}
}

func TestGlobalWindows(t *testing.T) {
	c := NewCollector()
	c.Record(snap(30*time.Second, "p1", "gpt-4o", 100, true))
	c.Record(snap(10*time.Minute, "p1", "gpt-4o", 300, true))
	c.Record(snap(2*time.Hour, "p2", "claude-3-5-sonnet", 500, false))

	byWindow := make(map[string]Aggregate)
	for _, a := range c.Global() {
		byWindow[a.Window] = a
	}

	if byWindow["1m"].RequestCount != 1 {
		t.Errorf("1m window: expected 1 request, got %d", byWindow["1m"].RequestCount)
	}
	if byWindow["1h"].RequestCount != 2 {
		t.Errorf("1h window: expected 2 requests, got %d", byWindow["1h"].RequestCount)
	}
	if byWindow["24h"].RequestCount != 3 {
		t.Errorf("24h window: expected 3 requests, got %d", byWindow["24h"].RequestCount)
	}

	day := byWindow["24h"]
	if day.ErrorCount != 1 {
		t.Errorf("expected 1 error in 24h, got %d", day.ErrorCount)
	}
	wantRate := 1.0 / 3.0
	if day.ErrorRate != wantRate {
		t.Errorf("expected error rate %f, got %f", wantRate, day.ErrorRate)
	}
	wantAvg := (100.0 + 300.0 + 500.0) / 3.0
	if day.AvgLatencyMs != wantAvg {
		t.Errorf("expected avg latency %f, got %f", wantAvg, day.AvgLatencyMs)
	}
	if day.TotalTokens != 45 {
		t.Errorf("expected 45 total tokens, got %d", day.TotalTokens)
	}
}

func TestSummaryByProvider(t *testing.T) {
	c := NewCollector()
	c.Record(snap(time.Second, "p1", "gpt-4o", 100, true))
	c.Record(snap(time.Second, "p1", "gpt-4o", 200, true))
	c.Record(snap(time.Second, "p2", "claude-3-5-sonnet", 400, false))

	summary := c.SummaryByProvider()
	aggs := summary["1m"]
	if len(aggs) != 2 {
		t.Fatalf("expected 2 provider aggregates in 1m, got %d", len(aggs))
	}

	byID := make(map[string]Aggregate)
	for _, a := range aggs {
		byID[a.ProviderID] = a
	}
	if byID["p1"].RequestCount != 2 || byID["p1"].ErrorCount != 0 {
		t.Errorf("p1: got %+v", byID["p1"])
	}
	if byID["p2"].RequestCount != 1 || byID["p2"].ErrorCount != 1 {
		t.Errorf("p2: got %+v", byID["p2"])
	}
}

func TestSummaryByModel(t *testing.T) {
	c := NewCollector()
	c.Record(snap(time.Second, "p1", "gpt-4o", 100, true))
	c.Record(snap(time.Second, "p2", "gpt-4o", 200, true))
	c.Record(snap(time.Second, "p2", "claude-3-5-sonnet", 400, true))

	summary := c.SummaryByModel()
	byModel := make(map[string]Aggregate)
	for _, a := range summary["1m"] {
		byModel[a.Model] = a
	}
	if byModel["gpt-4o"].RequestCount != 2 {
		t.Errorf("expected 2 gpt-4o requests, got %d", byModel["gpt-4o"].RequestCount)
	}
	if byModel["claude-3-5-sonnet"].RequestCount != 1 {
		t.Errorf("expected 1 claude request, got %d", byModel["claude-3-5-sonnet"].RequestCount)
	}
}

func TestSeed(t *testing.T) {
	c := NewCollector()
	c.Seed([]Snapshot{
		snap(time.Minute, "p1", "gpt-4o", 100, true),
		snap(2*time.Minute, "p1", "gpt-4o", 200, true),
	})
	if c.SnapshotCount() != 2 {
		t.Fatalf("expected 2 seeded snapshots, got %d", c.SnapshotCount())
	}
}

func TestPruneExpiredSnapshots(t *testing.T) {
	c := NewCollector()
	c.Seed([]Snapshot{
		snap(26*time.Hour, "p1", "gpt-4o", 100, true), // past maxAge
		snap(time.Minute, "p1", "gpt-4o", 200, true),
	})

	// Any aggregation pass prunes expired entries.
	_ = c.Global()
	if c.SnapshotCount() != 1 {
		t.Fatalf("expected expired snapshot pruned, got %d remaining", c.SnapshotCount())
	}
}

func TestP95Latency(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.Record(snap(time.Second, "p1", "gpt-4o", float64(i), true))
	}

	byWindow := make(map[string]Aggregate)
	for _, a := range c.Global() {
		byWindow[a.Window] = a
	}
	if got := byWindow["1m"].P95LatencyMs; got != 96 {
		t.Fatalf("expected p95 of 96, got %f", got)
	}
}
