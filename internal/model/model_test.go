package model

import (
	"encoding/json"
	"math"
	"testing"

	"fund-burying-backend/internal/scoring"
)

func TestDailyRecordUnmarshalFlatObject(t *testing.T) {
	var series StockSeries
	raw := `[
		{"date":"2024-01-02","open":10,"high":10.5,"low":9.8,"close":10.2,"volume":1000,"amount":"10200","fund_flow":null},
		{"date":"2024-01-03","open":10.2,"high":10.6,"low":10.1,"close":10.4,"volume":1200,"amount":12480,"fund_flow":-5}
	]`
	if err := json.Unmarshal([]byte(raw), &series); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", series.Len())
	}
	if series[0].Has(FieldFundFlow) {
		t.Fatal("null fund_flow should be missing")
	}
	if got := series[0].Get(FieldAmount); got != 10200 {
		t.Fatalf("expected numeric string amount to parse, got %v", got)
	}
	if !math.IsNaN(series[0].Get(FieldFundFlow)) {
		t.Fatal("missing field should read as NaN")
	}
	if !series.HasField(FieldFundFlow) {
		t.Fatal("fund_flow present on second day")
	}
	if missing := series.MissingFields([]string{FieldDate, FieldClose, FieldTurnoverRate}); len(missing) != 1 || missing[0] != FieldTurnoverRate {
		t.Fatalf("unexpected missing fields %v", missing)
	}
}

func TestDailyRecordRejectsNonNumeric(t *testing.T) {
	var r DailyRecord
	if err := json.Unmarshal([]byte(`{"date":"2024-01-02","close":"abc"}`), &r); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
}

func TestResultBuilderFreezesAndKeepsOrder(t *testing.T) {
	b := NewResultBuilder()
	b.Indicator("zeta", 1.0).Score("zeta", scoring.Of(40))
	b.Indicator("alpha", nil).Score("alpha", scoring.Unavailable())
	b.Indicator("mid", "steady")
	res := b.Build(55, "desc")

	keys := res.Indicators.Keys()
	if len(keys) != 3 || keys[0] != "zeta" || keys[1] != "alpha" || keys[2] != "mid" {
		t.Fatalf("insertion order lost: %v", keys)
	}
	raw, err := json.Marshal(res.IndicatorScores)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"zeta_score":40,"alpha_score":null}` {
		t.Fatalf("unexpected scores json %s", raw)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when reusing builder")
		}
	}()
	b.Indicator("late", 1)
}

func TestOrderedMapRoundTrip(t *testing.T) {
	b := NewResultBuilder()
	b.Indicator("b", 2.0).Indicator("a", "x")
	res := b.Build(10, "")
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back AnalysisResult
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if keys := back.Indicators.Keys(); len(keys) != 2 || keys[0] != "b" {
		t.Fatalf("order not restored: %v", keys)
	}
}

func TestMarketContextOptionalFields(t *testing.T) {
	var mc MarketContext
	if err := json.Unmarshal([]byte(`{"market_status":"shock","market_sentiment_index":45}`), &mc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := Float(mc.MarketSentimentIndex); !ok || v != 45 {
		t.Fatalf("expected sentiment 45, got %v %v", v, ok)
	}
	if _, ok := Float(mc.NorthboundFlow); ok {
		t.Fatal("absent northbound flow should be unavailable")
	}
	if !mc.MarketStatus.Valid() || MarketStatus("crash").Valid() {
		t.Fatal("market status validation wrong")
	}
}

func TestStockSeriesMergeSparse(t *testing.T) {
	series := StockSeries{
		{Date: "2024-03-01", Values: map[string]float64{FieldClose: 10}},
		{Date: "2024-03-04", Values: map[string]float64{FieldClose: 10.1}},
	}
	n := series.Merge([]DailyRecord{
		{Date: "2024-03-01", Values: map[string]float64{FieldShareholderCount: 50000, FieldClose: 99}},
		{Date: "2024-03-02", Values: map[string]float64{FieldShareholderCount: 1}},
	})
	if n != 1 {
		t.Fatalf("merged = %d, want 1", n)
	}
	if series[0].Get(FieldShareholderCount) != 50000 {
		t.Fatal("sparse field not merged")
	}
	if series[0].Get(FieldClose) != 10 {
		t.Fatal("existing field must not be overwritten")
	}
	if series[1].Has(FieldShareholderCount) {
		t.Fatal("unmatched date should be dropped")
	}
}
