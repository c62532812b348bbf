package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/service"
	"fund-burying-backend/internal/stockdata"
	"fund-burying-backend/internal/store"
	"fund-burying-backend/internal/trace"
)

func seriesJSON(n int) []map[string]any {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]map[string]any, n)
	prev := 10.0
	for i := 0; i < n; i++ {
		c := 10 + 0.02*float64(i) + 0.15*math.Sin(float64(i)/2)
		vol := 1e6 + 5e4*float64(i%7)
		out[i] = map[string]any{
			"date":          start.AddDate(0, 0, i).Format("2006-01-02"),
			"open":          prev,
			"high":          math.Max(prev, c) * 1.01,
			"low":           math.Min(prev, c) * 0.985,
			"close":         c,
			"volume":        vol,
			"amount":        c * vol,
			"fund_flow":     1e7,
			"turnover_rate": 2.5,
		}
		prev = c
	}
	return out
}

type stubLoader struct{}

func (stubLoader) LoadSeries(ctx context.Context, code string, days int) (model.StockSeries, error) {
	if code == "000404" {
		return nil, fmt.Errorf("upstream down")
	}
	raw, _ := json.Marshal(seriesJSON(60))
	var s model.StockSeries
	err := json.Unmarshal(raw, &s)
	return s, err
}

func (stubLoader) LoadMeta(ctx context.Context, code string) (model.StockMeta, error) {
	return model.StockMeta{Code: code, Name: "测试"}, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.Open(filepath.Join(t.TempDir(), "ambush.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	svc, err := service.New(service.Options{Store: st, Loader: stubLoader{}, Cache: stockdata.NewInMemoryCacheProvider()})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	r := gin.New()
	r.Use(TraceMiddleware())
	NewAmbush(svc).Register(r.Group("/api"))
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestModulesEndpoint(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodGet, "/api/ambush/modules", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Data []service.ModuleInfo `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Data) != 5 || body.Data[0].Name != "fund_flow" {
		t.Fatalf("unexpected modules: %+v", body.Data)
	}
	if w.Header().Get(trace.Header) == "" {
		t.Fatal("trace header missing")
	}
}

func TestAnalyzeInlineAndHistory(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodPost, "/api/ambush/analyze", map[string]any{
		"code":   "600001",
		"series": seriesJSON(60),
		"meta":   map[string]any{"code": "600001", "name": "测试股份", "market_cap": 80},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Result struct {
			Score     float64           `json:"score"`
			StockCode string            `json:"stock_code"`
			Failures  map[string]string `json:"failures"`
		} `json:"result"`
		RecordID int64 `json:"record_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.StockCode != "600001" || resp.RecordID == 0 || len(resp.Result.Failures) != 0 {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/ambush/history/600001?limit=5", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"trade_date":"2024-03-01"`)) {
		t.Fatalf("history = %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, fmt.Sprintf("/api/ambush/records/%d", resp.RecordID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("record = %d %s", w.Code, w.Body.String())
	}
	if w = do(r, http.MethodGet, "/api/ambush/records/999", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing record = %d", w.Code)
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	r := newRouter(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad json", http.MethodPost, "/api/ambush/analyze", "not an object", http.StatusBadRequest},
		{"unknown weight", http.MethodPost, "/api/ambush/analyze", map[string]any{"code": "600001", "weights": map[string]any{"news": 1}}, http.StatusBadRequest},
		{"unknown only", http.MethodGet, "/api/ambush/analyze/600001?only=news", nil, http.StatusBadRequest},
		{"bad days", http.MethodGet, "/api/ambush/analyze/600001?days=x", nil, http.StatusBadRequest},
		{"short series", http.MethodPost, "/api/ambush/analyze", map[string]any{"code": "600001", "series": seriesJSON(3)}, http.StatusUnprocessableEntity},
		{"loader failure", http.MethodGet, "/api/ambush/analyze/000404", nil, http.StatusInternalServerError},
		{"ok", http.MethodGet, "/api/ambush/analyze/600001?only=fund_flow", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, tc.method, tc.path, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d, body=%s", w.Code, tc.want, w.Body.String())
			}
			if tc.want != http.StatusOK && !bytes.Contains(w.Body.Bytes(), []byte(`"error"`)) {
				t.Fatalf("error body missing: %s", w.Body.String())
			}
		})
	}
}

func TestPatternEndpoints(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodPut, "/api/ambush/patterns/v-shape", map[string]any{"curve": []float64{1, 0, 1}, "success_rate": 0.5})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert = %d %s", w.Code, w.Body.String())
	}
	if w = do(r, http.MethodPut, "/api/ambush/patterns/bad", map[string]any{"curve": []float64{1}}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid pattern = %d", w.Code)
	}
	w = do(r, http.MethodGet, "/api/ambush/patterns", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte("v-shape")) {
		t.Fatalf("pattern list = %s", w.Body.String())
	}
	if w = do(r, http.MethodDelete, "/api/ambush/patterns/v-shape", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w = do(r, http.MethodDelete, "/api/ambush/patterns/v-shape", nil); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing = %d", w.Code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	r := newRouter(t)
	w := do(r, http.MethodPost, "/api/ambush/tasks", map[string]any{"codes": []string{"600001", "000404"}, "request_id": "r1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	var st service.TaskStatus
	json.Unmarshal(w.Body.Bytes(), &st)

	if w = do(r, http.MethodPost, "/api/ambush/tasks", map[string]any{"codes": []string{"600001"}, "request_id": "r1"}); w.Code != http.StatusOK && w.Code != http.StatusAccepted {
		t.Fatalf("duplicate create = %d", w.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = do(r, http.MethodGet, "/api/ambush/tasks/"+st.TaskID, nil)
		json.Unmarshal(w.Body.Bytes(), &st)
		if st.Status == service.TaskDone {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.Status != service.TaskDone || len(st.Results) != 2 || st.Results[1].Error == "" {
		t.Fatalf("task did not finish as expected: %+v", st)
	}

	if w = do(r, http.MethodGet, "/api/ambush/tasks/unknown", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown task = %d", w.Code)
	}
	if w = do(r, http.MethodPost, "/api/ambush/tasks", map[string]any{"codes": []string{}}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty codes = %d", w.Code)
	}
}
