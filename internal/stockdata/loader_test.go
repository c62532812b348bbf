package stockdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fund-burying-backend/internal/model"
)

const klineFixture = `{"rc":0,"data":{"code":"600001","name":"测试股份","klines":[
"2024-03-01,10.00,10.20,10.30,9.90,120000,122400000.00,4.00,2.00,0.20,1.50",
"2024-03-04,10.20,10.10,10.40,10.00,90000,91800000.00,3.92,-0.98,-0.10,1.12",
"2024-03-05,10.10,10.35,10.50,10.05,150000,155000000.00,4.46,2.48,0.25,-"
]}}`

const fundFlowFixture = `{"rc":0,"data":{"code":"600001","klines":[
"2024-03-01,5000000.0,-2000000.0,-3000000.0,1500000.0,3500000.0,1.2",
"2024-03-05,-1000000.0,500000.0,500000.0,-400000.0,-600000.0,0.3"
]}}`

const profileFixture = `{"rc":0,"data":{"f57":"600001","f58":"测试股份","f116":12345678901.5,"f127":"电子元件"}}`

func TestParseKlines(t *testing.T) {
	series, err := parseKlines([]byte(klineFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", series.Len())
	}
	first := series[0]
	if first.Date != "2024-03-01" || first.Get(model.FieldClose) != 10.20 || first.Get(model.FieldHigh) != 10.30 {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.Get(model.FieldTurnoverRate) != 1.5 {
		t.Fatalf("turnover = %v", first.Get(model.FieldTurnoverRate))
	}
	if series[2].Has(model.FieldTurnoverRate) {
		t.Fatal("dash turnover should be missing")
	}
	if missing := series.MissingFields(model.BaselineFields); len(missing) > 0 {
		t.Fatalf("baseline fields missing: %v", missing)
	}
}

func TestParseKlinesRejectsEmpty(t *testing.T) {
	if _, err := parseKlines([]byte(`{"data":null}`)); err == nil {
		t.Fatal("expected error for missing klines")
	}
	if _, err := parseKlines([]byte(`{"data":{"klines":[]}}`)); err == nil {
		t.Fatal("expected error for empty klines")
	}
}

func TestMergeFlows(t *testing.T) {
	series, _ := parseKlines([]byte(klineFixture))
	flows, err := parseFundFlow([]byte(fundFlowFixture))
	if err != nil {
		t.Fatalf("parse flows: %v", err)
	}
	mergeFlows(series, flows)
	if got := series[0].Get(model.FieldFundFlow); got != 5000000 {
		t.Fatalf("fund_flow = %v", got)
	}
	if got := series[0].Get(model.FieldLargeOrderNetInflow); got != 5000000 {
		t.Fatalf("large_order_net_inflow = %v", got)
	}
	if series[1].Has(model.FieldFundFlow) {
		t.Fatal("day without flow data should stay missing")
	}
	if got := series[2].Get(model.FieldFundFlow); got != -1000000 {
		t.Fatalf("fund_flow = %v", got)
	}
}

func TestParseProfile(t *testing.T) {
	meta, err := parseProfile([]byte(profileFixture), "600001")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.Name != "测试股份" || meta.Industry != "电子元件" || meta.Market != "SH" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if got := meta.MarketCap.String(); got != "123.46" {
		t.Fatalf("market cap = %s, want 123.46", got)
	}
	if _, err := parseProfile([]byte(`{"data":null}`), "600001"); err == nil {
		t.Fatal("expected error for null data")
	}
}

func TestSecID(t *testing.T) {
	cases := map[string]string{"600519": "1.600519", "000001": "0.000001", "300750": "0.300750"}
	for code, want := range cases {
		if got := SecID(code); got != want {
			t.Fatalf("SecID(%s) = %s, want %s", code, got, want)
		}
	}
	if ValidCode("60051") || ValidCode("60051a") || !ValidCode("600519") {
		t.Fatal("ValidCode mismatch")
	}
}

func TestLoadSeriesUsesCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch {
		case strings.Contains(r.URL.Path, "fflow"):
			w.Write([]byte(fundFlowFixture))
		case strings.Contains(r.URL.Path, "kline"):
			if r.URL.Query().Get("secid") != "1.600001" {
				http.Error(w, "bad secid", http.StatusBadRequest)
				return
			}
			w.Write([]byte(klineFixture))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	oldBase := EastMoneyHisBase
	EastMoneyHisBase = srv.URL
	SetCacheProvider(NewInMemoryCacheProvider())
	defer func() {
		EastMoneyHisBase = oldBase
		SetCacheProvider(nil)
	}()

	ctx := context.Background()
	series, err := LoadSeries(ctx, "600001", 60)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if series.Len() != 3 || !series.HasField(model.FieldFundFlow) {
		t.Fatalf("unexpected series: %d records, fields %v", series.Len(), series.Fields())
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 upstream requests, got %d", hits)
	}

	again, err := LoadSeries(ctx, "600001", 60)
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("second load should hit cache, upstream requests = %d", hits)
	}
	if again[0].Get(model.FieldFundFlow) != series[0].Get(model.FieldFundFlow) {
		t.Fatal("cached series differs")
	}

	if _, err := LoadSeries(ctx, "abc", 60); err == nil {
		t.Fatal("expected invalid code error")
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	p := NewInMemoryCacheProvider()
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	if err := p.Set("k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out map[string]int
	if err := p.Get("k", &out); err != nil || out["a"] != 1 {
		t.Fatalf("get: %v %v", out, err)
	}
	now = now.Add(2 * time.Minute)
	if err := p.Get("k", &out); err != ErrCacheMiss {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	_ = p.Delete("missing")
}
