package scoring

import (
	"encoding/json"
	"math"
	"testing"
)

func TestThresholdScoreEndpoints(t *testing.T) {
	if got := ThresholdScore(2, 2, 10, false); got != 0 {
		t.Fatalf("expected 0 at minOK, got %v", got)
	}
	if got := ThresholdScore(10, 2, 10, false); got != 100 {
		t.Fatalf("expected 100 at minFull, got %v", got)
	}
	if got := ThresholdScore(50, 2, 10, false); got != 100 {
		t.Fatalf("expected 100 above minFull, got %v", got)
	}
	if got := ThresholdScore(6, 2, 10, false); got != 50 {
		t.Fatalf("expected 50 at midpoint, got %v", got)
	}
	if got := ThresholdScore(-3, 2, 10, false); got != 0 {
		t.Fatalf("expected 0 below minOK, got %v", got)
	}
}

func TestThresholdScoreMonotonic(t *testing.T) {
	prev := -1.0
	for v := -5.0; v <= 15; v += 0.25 {
		got := ThresholdScore(v, 0, 10, false)
		if got < prev {
			t.Fatalf("not monotonic at %v: %v < %v", v, got, prev)
		}
		if got < 0 || got > 100 {
			t.Fatalf("out of range at %v: %v", v, got)
		}
		prev = got
	}
}

func TestThresholdScoreInvertMirrors(t *testing.T) {
	for _, v := range []float64{-1, 0, 0.1, 0.3, 0.6, 1, 2} {
		normal := ThresholdScore(v, 0.1, 0.6, false)
		inverted := ThresholdScore(v, 0.1, 0.6, true)
		if math.Abs(normal+inverted-100) > 1e-9 {
			t.Fatalf("invert should mirror at %v: %v + %v", v, normal, inverted)
		}
	}
	if got := ThresholdScore(0.1, 0.1, 0.6, true); got != 100 {
		t.Fatalf("expected 100 at minOK when inverted, got %v", got)
	}
	if got := ThresholdScore(0.6, 0.1, 0.6, true); got != 0 {
		t.Fatalf("expected 0 at minFull when inverted, got %v", got)
	}
}

func TestThresholdScoreDegenerateAndNonFinite(t *testing.T) {
	if got := ThresholdScore(5, 5, 5, false); got != 100 {
		t.Fatalf("expected step to 100 at minFull, got %v", got)
	}
	if got := ThresholdScore(4.99, 5, 5, false); got != 0 {
		t.Fatalf("expected 0 below step, got %v", got)
	}
	if got := ThresholdScore(math.NaN(), 0, 1, false); got != 0 {
		t.Fatalf("expected 0 for NaN, got %v", got)
	}
	if got := ThresholdScore(math.Inf(1), 0, 1, false); got != 0 {
		t.Fatalf("expected 0 for +Inf, got %v", got)
	}
}

func TestRatioScore(t *testing.T) {
	r := TargetRange{Low: 1, High: 5}
	cases := []struct {
		value float64
		want  float64
	}{
		{3, 100},
		{1, 100},
		{5, 100},
		{7, 50},
		{9, 0},
		{20, 0},
		{-1, 50},
	}
	for _, c := range cases {
		if got := RatioScore(c.value, r); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("RatioScore(%v) = %v, want %v", c.value, got, c.want)
		}
	}

	point := TargetRange{Low: 2, High: 2}
	if got := RatioScore(2.5, point); got != 50 {
		t.Fatalf("expected point band to decay over 1, got %v", got)
	}
	tol := TargetRange{Low: 0, High: 1, Tolerance: 4}
	if got := RatioScore(3, tol); got != 50 {
		t.Fatalf("expected explicit tolerance, got %v", got)
	}
}

func TestWeightedSumExcludesUnavailable(t *testing.T) {
	scores := map[string]Score{
		"a": Of(100),
		"b": Unavailable(),
		"c": Of(50),
	}
	weights := map[string]float64{"a": 1, "b": 10, "c": 1}
	if got := WeightedSum(scores, weights); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
}

func TestWeightedSumZeroCases(t *testing.T) {
	if got := WeightedSum(map[string]Score{"a": Unavailable()}, map[string]float64{"a": 1}); got != 0 {
		t.Fatalf("expected 0 when all unavailable, got %v", got)
	}
	if got := WeightedSum(map[string]Score{"a": Of(80)}, map[string]float64{"a": 0}); got != 0 {
		t.Fatalf("expected 0 when weight sum is 0, got %v", got)
	}
	if got := WeightedSum(nil, nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}

func TestWeightedSumBounded(t *testing.T) {
	values := []float64{0, 12.5, 33, 47.1, 88, 100}
	for i := range values {
		scores := map[string]Score{}
		weights := map[string]float64{}
		for j := 0; j <= i; j++ {
			k := string(rune('a' + j))
			scores[k] = Of(values[j])
			weights[k] = float64(j) + 0.5
		}
		got := WeightedSum(scores, weights)
		if got < 0 || got > 100 {
			t.Fatalf("weighted sum out of range: %v", got)
		}
	}
}

func TestWeightedSumDeterministic(t *testing.T) {
	scores := map[string]Score{}
	weights := map[string]float64{}
	for i := 0; i < 40; i++ {
		k := string(rune('A' + i))
		scores[k] = Of(float64(i) * 2.37)
		weights[k] = 0.1 + float64(i%7)*0.013
	}
	first := WeightedSum(scores, weights)
	for i := 0; i < 50; i++ {
		if got := WeightedSum(scores, weights); got != first {
			t.Fatalf("non-deterministic result: %v != %v", got, first)
		}
	}
}

func TestScoreOfNonFiniteIsUnavailable(t *testing.T) {
	if Of(math.NaN()).Available {
		t.Fatal("NaN should be unavailable")
	}
	if Of(math.Inf(-1)).Available {
		t.Fatal("-Inf should be unavailable")
	}
	if s := Of(140); !s.Available || s.Value != 100 {
		t.Fatalf("expected clamped 100, got %+v", s)
	}
}

func TestScoreJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Score{"x": Unavailable(), "y": Of(42)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"x":null,"y":42}` {
		t.Fatalf("unexpected json %s", b)
	}
	var s Score
	if err := json.Unmarshal([]byte("null"), &s); err != nil || s.Available {
		t.Fatalf("expected null to decode as unavailable, got %+v err=%v", s, err)
	}
}
