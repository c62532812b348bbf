package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fund-burying-backend/internal/model"
)

func TestSidecarMarketContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ambush/context" || r.URL.Query().Get("code") != "600001" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":{"market_status":"shock","market_style":"small_cap","northbound_flow":12.5,
			"industry_valuation":{"pe_percentile":0.2}}}`))
	}))
	defer srv.Close()

	mc, err := NewSidecar(srv.URL+"/").MarketContext(context.Background(), "600001")
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if mc.MarketStatus != model.MarketShock || mc.MarketStyle != "small_cap" {
		t.Fatalf("unexpected context: %+v", mc)
	}
	if v, ok := model.Float(mc.NorthboundFlow); !ok || v != 12.5 {
		t.Fatalf("northbound_flow = %v", mc.NorthboundFlow)
	}
	if mc.IndustryValuation == nil || *mc.IndustryValuation.PEPercentile != 0.2 {
		t.Fatalf("valuation = %+v", mc.IndustryValuation)
	}
	if mc.MarketSentimentIndex != nil {
		t.Fatal("absent field should stay nil")
	}
}

func TestSidecarUnknownStatusDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"market_status":"sideways"}}`))
	}))
	defer srv.Close()

	mc, err := NewSidecar(srv.URL).MarketContext(context.Background(), "600001")
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if mc.MarketStatus != model.MarketUnknown {
		t.Fatalf("expected unknown status, got %q", mc.MarketStatus)
	}
}

func TestSidecarDisclosures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ambush/disclosures/600001" {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[{"date":"2024-03-01","shareholder_count":52000},
			{"date":"2024-03-15","shareholder_count":"49800","institution_holding_ratio":null}]}`))
	}))
	defer srv.Close()

	sc := NewSidecar(srv.URL)
	records, err := sc.Disclosures(context.Background(), "600001", 60)
	if err != nil {
		t.Fatalf("disclosures: %v", err)
	}
	if len(records) != 2 || records[1].Get(model.FieldShareholderCount) != 49800 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[1].Has(model.FieldInstitutionHoldingRatio) {
		t.Fatal("null field should be missing")
	}

	if _, err := sc.Disclosures(context.Background(), "000002", 60); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestNilSidecar(t *testing.T) {
	var sc *Sidecar = NewSidecar("  ")
	if sc != nil {
		t.Fatal("blank url should yield nil sidecar")
	}
	if _, err := sc.MarketContext(context.Background(), "600001"); err == nil {
		t.Fatal("nil sidecar should return error")
	}
}
