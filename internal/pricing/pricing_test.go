package pricing

import (
	"math"
	"testing"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.NewSnapshot([]models.ModelProfile{
		{ID: "priced", CostPer1KInput: 0.001, CostPer1KOutput: 0.003},
		{ID: "free"},
	}, 0.004, 1)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestCostForSplit(t *testing.T) {
	snap := testSnapshot(t)

	tests := []struct {
		name   string
		model  string
		in     int
		out    int
		expect float64
	}{
		{"priced model", "priced", 1000, 1000, 0.004},
		{"unpriced model uses default", "free", 500, 500, 0.004},
		{"unknown model uses default", "nope", 1000, 0, 0.004},
		{"missing model uses default", "", 0, 1000, 0.004},
		{"negative tokens clamp", "priced", -10, -10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CostForSplit(snap, tt.model, tt.in, tt.out)
			if !almostEqual(got, tt.expect) {
				t.Errorf("CostForSplit(%q, %d, %d) = %f, want %f", tt.model, tt.in, tt.out, got, tt.expect)
			}
		})
	}
}

func TestDefaultPerTokenFallback(t *testing.T) {
	if got := DefaultPerToken(nil); !almostEqual(got, 0.000002) {
		t.Errorf("DefaultPerToken(nil) = %f", got)
	}
}

func TestPricePerTokenForModel(t *testing.T) {
	snap := testSnapshot(t)
	if price, ok := PricePerTokenForModel(snap, "priced"); !ok || !almostEqual(price, 0.000002) {
		t.Errorf("priced: got %f, %v", price, ok)
	}
	if _, ok := PricePerTokenForModel(snap, "free"); ok {
		t.Error("unpriced model should not report a price")
	}
}

func TestEstimateRequestCostScalesWithSamples(t *testing.T) {
	p := models.ModelProfile{ID: "m", CostPer1KInput: 0.001, CostPer1KOutput: 0.002}
	one := EstimateRequestCost(p, 1000, 1000, 1)
	three := EstimateRequestCost(p, 1000, 1000, 3)
	if !almostEqual(three, 3*one) {
		t.Errorf("expected 3x cost, got %f vs %f", three, one)
	}
	if !almostEqual(EstimateRequestCost(p, 1000, 1000, 0), one) {
		t.Error("zero samples should count as one")
	}
}

func TestUsageFillsTotals(t *testing.T) {
	u := Usage(testSnapshot(t), "priced", models.TokenUsage{InputTokens: 1000, OutputTokens: 1000})
	if u.TotalTokens != 2000 || !almostEqual(u.CostUSD, 0.004) {
		t.Errorf("unexpected usage %+v", u)
	}
}
