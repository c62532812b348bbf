package ambushcli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFixtures(t *testing.T) (dir string) {
	t.Helper()
	dir = t.TempDir()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	records := make([]map[string]any, 45)
	prev := 10.0
	for i := range records {
		c := 10 + 0.02*float64(i) + 0.15*math.Sin(float64(i)/2)
		vol := 1e6 + 5e4*float64(i%7)
		records[i] = map[string]any{
			"date": start.AddDate(0, 0, i).Format("2006-01-02"),
			"open": prev, "high": math.Max(prev, c) * 1.01, "low": math.Min(prev, c) * 0.985,
			"close": c, "volume": vol, "amount": c * vol,
			"fund_flow": 1e7, "turnover_rate": 2.5,
		}
		prev = c
	}
	write := func(name string, v any) {
		b, _ := json.Marshal(v)
		if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("series.json", records)
	write("wrapped.json", map[string]any{"series": records})
	write("meta.json", map[string]any{"code": "600001", "name": "测试股份", "market_cap": "85.5"})
	write("context.json", map[string]any{"market_status": "shock", "northbound_flow": 30})
	write("modules.json", map[string]any{"modules": map[string]any{"technical_pattern": map[string]any{"min_records": 20}}})
	return dir
}

func TestRunWritesResultToStdout(t *testing.T) {
	dir := writeFixtures(t)
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-input", filepath.Join(dir, "series.json"),
		"-meta", filepath.Join(dir, "meta.json"),
		"-context", filepath.Join(dir, "context.json"),
		"-config", filepath.Join(dir, "modules.json"),
		"-disable", "share_structure",
		"-weights", "fund_flow=0.5, main_force=0.2",
		"-parallel",
	}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res struct {
		StockCode string  `json:"stock_code"`
		TradeDate string  `json:"trade_date"`
		Score     float64 `json:"score"`
		Modules   []struct {
			Name   string  `json:"name"`
			Weight float64 `json:"weight"`
		} `json:"modules"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if res.StockCode != "600001" || res.TradeDate != "2024-02-15" {
		t.Fatalf("unexpected identity: %+v", res)
	}
	if len(res.Modules) != 4 {
		t.Fatalf("disabled module should be skipped: %+v", res.Modules)
	}
	if res.Modules[0].Name != "fund_flow" || res.Modules[0].Weight != 0.5 {
		t.Fatalf("weights not applied: %+v", res.Modules[0])
	}
	if !strings.Contains(out.String(), "\n  \"") {
		t.Fatal("output should be indented")
	}
}

func TestRunWritesOutputFileAndStore(t *testing.T) {
	dir := writeFixtures(t)
	output := filepath.Join(dir, "out.json")
	err := run(context.Background(), []string{
		"-code", "600001",
		"-input", filepath.Join(dir, "wrapped.json"),
		"-only", "fund_flow,technical_pattern",
		"-output", output,
		"-db", filepath.Join(dir, "db"),
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(output)
	if err != nil || !bytes.Contains(b, []byte(`"stock_code": "600001"`)) {
		t.Fatalf("output file: %v %s", err, b)
	}
	if _, err := os.Stat(filepath.Join(dir, "db", "ambush.db")); err != nil {
		t.Fatalf("store should be created: %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	dir := writeFixtures(t)
	series := filepath.Join(dir, "series.json")
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no input", nil, "-code"},
		{"bad flag", []string{"-nope"}, "flag"},
		{"bad weights", []string{"-code", "600001", "-input", series, "-weights", "fund_flow"}, "权重格式错误"},
		{"bad weight value", []string{"-code", "600001", "-input", series, "-weights", "fund_flow=x"}, "不是数字"},
		{"missing file", []string{"-code", "600001", "-input", filepath.Join(dir, "none.json")}, "读取日线文件失败"},
		{"unknown module", []string{"-code", "600001", "-input", series, "-only", "news"}, "news"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), tc.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestParseWeights(t *testing.T) {
	w, err := parseWeights(" fund_flow=0.4 ,main_force = 0.3")
	if err != nil || w["fund_flow"] != 0.4 || w["main_force"] != 0.3 {
		t.Fatalf("weights = %v err = %v", w, err)
	}
	if w, err := parseWeights(""); err != nil || w != nil {
		t.Fatalf("empty weights = %v %v", w, err)
	}
}
