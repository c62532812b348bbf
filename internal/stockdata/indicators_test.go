package stockdata

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMeanAndStdDevSkipMissing(t *testing.T) {
	data := []float64{1, math.NaN(), 3, 5}
	if got := Mean(data); !almostEqual(got, 3) {
		t.Fatalf("Mean = %v, want 3", got)
	}
	if got := StdDev([]float64{2, 2, 2}); got != 0 {
		t.Fatalf("StdDev of constant = %v", got)
	}
	if !math.IsNaN(Mean(nil)) {
		t.Fatal("Mean of empty should be NaN")
	}
}

func TestEMAStartsWithSMA(t *testing.T) {
	ema := EMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(ema[0]) || !math.IsNaN(ema[1]) {
		t.Fatal("positions before period should be NaN")
	}
	if !almostEqual(ema[2], 2) {
		t.Fatalf("first EMA should equal SMA, got %v", ema[2])
	}
	if !almostEqual(ema[3], 3) {
		t.Fatalf("EMA[3] = %v, want 3", ema[3])
	}
}

func TestMACDShortSeries(t *testing.T) {
	dif, dea, hist := MACD([]float64{1, 2, 3}, 12, 26, 9)
	for i := range dif {
		if !math.IsNaN(dif[i]) || !math.IsNaN(dea[i]) || !math.IsNaN(hist[i]) {
			t.Fatal("short series should produce NaN")
		}
	}

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 10 + float64(i)*0.1
	}
	dif, dea, hist = MACD(closes, 12, 26, 9)
	last := len(closes) - 1
	if math.IsNaN(dif[last]) || math.IsNaN(dea[last]) || math.IsNaN(hist[last]) {
		t.Fatal("long series should produce values")
	}
	if dif[last] <= 0 {
		t.Fatalf("rising series should have positive DIF, got %v", dif[last])
	}
}

func TestSlopeNormalized(t *testing.T) {
	if got := Slope([]float64{10, 10, 10}); got != 0 {
		t.Fatalf("flat slope = %v", got)
	}
	if got := Slope([]float64{9, 10, 11}); !almostEqual(got, 0.1) {
		t.Fatalf("slope = %v, want 0.1", got)
	}
	if !math.IsNaN(Slope([]float64{1})) {
		t.Fatal("single point slope should be NaN")
	}
}

func TestPearson(t *testing.T) {
	r, ok := Pearson([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	if !ok || !almostEqual(r, 1) {
		t.Fatalf("perfect correlation: %v %v", r, ok)
	}
	r, ok = Pearson([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
	if !ok || !almostEqual(r, -1) {
		t.Fatalf("perfect anti-correlation: %v %v", r, ok)
	}
	if _, ok := Pearson([]float64{1, 2, 3}, []float64{5, 5, 5}); ok {
		t.Fatal("constant series should be undefined")
	}
	if _, ok := Pearson([]float64{1, math.NaN(), 3}, []float64{1, 2, 3}); ok {
		t.Fatal("fewer than 3 valid pairs should be undefined")
	}
}

func TestGini(t *testing.T) {
	if got := Gini([]float64{5, 5, 5, 5}); !almostEqual(got, 0) {
		t.Fatalf("uniform gini = %v", got)
	}
	if got := Gini([]float64{0, 0, 0, 10}); !almostEqual(got, 0.75) {
		t.Fatalf("concentrated gini = %v, want 0.75", got)
	}
}

func TestSimilarity(t *testing.T) {
	a := []float64{0, 0.5, 1}
	if s, ok := CosineSimilarity(a, []float64{0, 1, 2}); !ok || !almostEqual(s, 1) {
		t.Fatalf("cosine parallel = %v %v", s, ok)
	}
	if s, ok := EuclideanSimilarity(a, a); !ok || s != 1 {
		t.Fatalf("euclidean identical = %v %v", s, ok)
	}
	if _, ok := CosineSimilarity(a, []float64{1, 2}); ok {
		t.Fatal("length mismatch should fail")
	}
}

func TestResample(t *testing.T) {
	out := Resample([]float64{0, 10}, 5)
	want := []float64{0, 2.5, 5, 7.5, 10}
	for i := range want {
		if !almostEqual(out[i], want[i]) {
			t.Fatalf("Resample[%d] = %v, want %v", i, out[i], want[i])
		}
	}
	if len(Resample(nil, 3)) != 0 {
		t.Fatal("empty input should return nil")
	}
}

func TestFirstLastSparse(t *testing.T) {
	nan := math.NaN()
	first, last, ok := FirstLast([]float64{nan, 100, nan, nan, 80, nan})
	if !ok || first != 100 || last != 80 {
		t.Fatalf("FirstLast = %v %v %v", first, last, ok)
	}
	if _, _, ok := FirstLast([]float64{nan, 1, nan}); ok {
		t.Fatal("single observation should not be ok")
	}
}

func TestShadowRatios(t *testing.T) {
	upper, lower := ShadowRatios(10, 11, 8, 10.5)
	if !almostEqual(upper, 0.5/3) || !almostEqual(lower, 2.0/3) {
		t.Fatalf("shadow ratios = %v %v", upper, lower)
	}
	if u, l := ShadowRatios(10, 10, 10, 10); u != 0 || l != 0 {
		t.Fatal("flat bar should have zero shadows")
	}
}
