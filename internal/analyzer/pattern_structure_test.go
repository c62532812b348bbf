package analyzer

import (
	"errors"
	"math"
	"testing"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
)

// flatBar 开收 10、高 10.2、低 9.9 的平稳日线，下影线占振幅 1/3
func flatBar(v map[string]float64) {
	v[model.FieldOpen] = 10
	v[model.FieldHigh] = 10.2
	v[model.FieldLow] = 9.9
	v[model.FieldClose] = 10
	v[model.FieldVolume] = 1e6
	v[model.FieldAmount] = 1e7
}

func closeBar(v map[string]float64, c float64) {
	v[model.FieldOpen] = c
	v[model.FieldHigh] = c * 1.01
	v[model.FieldLow] = c * 0.99
	v[model.FieldClose] = c
	v[model.FieldVolume] = 1e6
	v[model.FieldAmount] = c * 1e6
}

func rawFloat(t *testing.T, res *model.AnalysisResult, name string) float64 {
	t.Helper()
	raw, ok := res.Indicator(name)
	if !ok {
		t.Fatalf("indicator %s missing", name)
	}
	v, ok := raw.(float64)
	if !ok {
		t.Fatalf("indicator %s = %v, want number", name, raw)
	}
	return v
}

func subScore(t *testing.T, res *model.AnalysisResult, name string) scoring.Score {
	t.Helper()
	s, ok := res.IndicatorScore(name)
	if !ok {
		t.Fatalf("sub-score %s missing", name)
	}
	return s
}

func TestTechnicalPatternWashoutSignals(t *testing.T) {
	m, _ := NewModule(ModuleTechnicalPattern, nil)
	series := makeSeries(30, func(i int, v map[string]float64) {
		flatBar(v)
		switch i {
		case 2, 12, 18, 22:
			// 压力位测试，间隔 10、6、4
			v[model.FieldHigh] = 11
		case 15:
			// 盘中跌破前 10 日低点后收回
			v[model.FieldLow] = 9.5
		case 20:
			// 一字线
			v[model.FieldHigh], v[model.FieldLow] = 10, 10
		}
	})
	res, err := m.Analyze(series, testMeta(30), model.MarketContext{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	cases := []struct {
		name  string
		raw   float64
		score float64
	}{
		{"false_breakout_count", 1, 100.0 / 3},
		{"intraday_shakeout_count", 1, 25},
		{"long_lower_shadow_ratio", 1.0 / 29, 0},
		{"resistance_test_count", 4, 100},
		{"test_interval_shrinking", 0.6, 100},
	}
	for _, c := range cases {
		if got := rawFloat(t, res, c.name); math.Abs(got-c.raw) > 1e-9 {
			t.Fatalf("%s = %v, want %v", c.name, got, c.raw)
		}
		if s := subScore(t, res, c.name); !s.Available || math.Abs(s.Value-c.score) > 1e-9 {
			t.Fatalf("%s score = %+v, want %v", c.name, s, c.score)
		}
	}
	// 一字线不计入有效振幅天数
	if got := rawFloat(t, res, "long_lower_shadow_count"); got != 1 {
		t.Fatalf("long_lower_shadow_count = %v, want 1", got)
	}
	if s := subScore(t, res, "macd_bottom_divergence"); s.Available {
		t.Fatalf("30 records are too few for MACD, got %+v", s)
	}
}

func TestTechnicalPatternMACDBottomDivergence(t *testing.T) {
	cases := []struct {
		name  string
		close func(i int) float64
		want  float64
	}{
		{
			// 急跌至 10 后反弹，再缓跌出略低的新低
			name: "divergence",
			close: func(i int) float64 {
				switch {
				case i <= 25:
					return 20
				case i <= 41:
					return 20 - 10*float64(i-25)/16
				case i <= 49:
					return 10 + float64(i-41)*0.25
				default:
					return 12 - float64(i-49)*0.21
				}
			},
			want: 1,
		},
		{
			name:  "accelerating decline",
			close: func(i int) float64 { return 20 - 0.003*float64(i*i) },
			want:  0,
		},
	}
	m, _ := NewModule(ModuleTechnicalPattern, nil)
	for _, c := range cases {
		series := makeSeries(60, func(i int, v map[string]float64) { closeBar(v, c.close(i)) })
		res, err := m.Analyze(series, testMeta(30), model.MarketContext{})
		if err != nil {
			t.Fatalf("%s: analyze: %v", c.name, err)
		}
		if got := rawFloat(t, res, "macd_bottom_divergence"); got != c.want {
			t.Fatalf("%s: macd_bottom_divergence = %v, want %v", c.name, got, c.want)
		}
		if s := subScore(t, res, "macd_bottom_divergence"); s.Value != c.want*100 {
			t.Fatalf("%s: score = %+v", c.name, s)
		}
	}
}

// chipSeries 前 10 日收盘 10..19 均匀成交，后 10 日收盘固定 15，换手恒为 2%
func chipSeries(blockFactor float64) model.StockSeries {
	return makeSeries(20, func(i int, v map[string]float64) {
		c := 15.0
		if i < 10 {
			c = 10 + float64(i)
		}
		closeBar(v, c)
		v[model.FieldTurnoverRate] = 2
		if blockFactor > 0 && (i == 5 || i == 15) {
			v[model.FieldBlockTradePrice] = c * blockFactor
		}
	})
}

func TestShareStructureChipConcentration(t *testing.T) {
	m, _ := NewModule(ModuleShareStructure, nil)
	res, err := m.Analyze(chipSeries(0), testMeta(30), model.MarketContext{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	locked := rawFloat(t, res, "locked_chip_ratio")
	if want := math.Pow(0.98, 20); math.Abs(locked-want) > 1e-12 {
		t.Fatalf("locked_chip_ratio = %v, want %v", locked, want)
	}
	if s := subScore(t, res, "locked_chip_ratio"); math.Abs(s.Value-(locked-0.4)/0.3*100) > 1e-9 {
		t.Fatalf("locked_chip_ratio score = %+v", s)
	}

	// 前半段 10 个价位各一份，后半段全部集中在一个价位：0 -> 0.9
	gini := rawFloat(t, res, "gini_increase")
	if math.Abs(gini-0.9) > 1e-9 {
		t.Fatalf("gini_increase = %v, want 0.9", gini)
	}
	if s := subScore(t, res, "gini_increase"); s.Value != 100 {
		t.Fatalf("gini_increase score = %+v, want 100", s)
	}
	if s := subScore(t, res, "block_trade_discount"); s.Available {
		t.Fatalf("no block trades should leave the sub-score unavailable, got %+v", s)
	}
}

func TestShareStructureBlockTradeDiscount(t *testing.T) {
	cases := []struct {
		name   string
		factor float64
		raw    float64
		score  float64
	}{
		// 0.05 落在 0~0.08 的 62.5% 处，反向后为 37.5
		{"5% discount", 0.95, 0.05, 37.5},
		{"10% discount", 0.90, 0.10, 0},
		{"2% premium", 1.02, -0.02, 100},
	}
	m, _ := NewModule(ModuleShareStructure, nil)
	for _, c := range cases {
		res, err := m.Analyze(chipSeries(c.factor), testMeta(30), model.MarketContext{})
		if err != nil {
			t.Fatalf("%s: analyze: %v", c.name, err)
		}
		if got := rawFloat(t, res, "block_trade_discount"); math.Abs(got-c.raw) > 1e-9 {
			t.Fatalf("%s: block_trade_discount = %v, want %v", c.name, got, c.raw)
		}
		if s := subScore(t, res, "block_trade_discount"); !s.Available || math.Abs(s.Value-c.score) > 1e-9 {
			t.Fatalf("%s: score = %+v, want %v", c.name, s, c.score)
		}
	}
}

func TestMainForceHotMoneyBidAskBonus(t *testing.T) {
	// 日涨跌幅均低于 5%，买卖比 3.5，游资特征只来自买卖比加成
	series := makeSeries(30, func(i int, v map[string]float64) {
		v[model.FieldFundFlow] = 1e6
		v[model.FieldLargeOrderBuy] = v[model.FieldAmount] * 0.35
		v[model.FieldLargeOrderSell] = v[model.FieldAmount] * 0.1
	})
	cases := []struct {
		name     string
		override map[string]any
		want     float64
	}{
		{"default", nil, 0.2},
		{"disabled", map[string]any{"hot_money_bid_ask_bonus": 0}, 0},
		{"raised", map[string]any{"hot_money_bid_ask_bonus": 0.5}, 0.5},
	}
	for _, c := range cases {
		m, err := NewModule(ModuleMainForce, c.override)
		if err != nil {
			t.Fatalf("%s: new module: %v", c.name, err)
		}
		res, err := m.Analyze(series, testMeta(30), model.MarketContext{})
		if err != nil {
			t.Fatalf("%s: analyze: %v", c.name, err)
		}
		if got := rawFloat(t, res, "hot_money_signature"); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("%s: hot_money_signature = %v, want %v", c.name, got, c.want)
		}
	}
	if _, err := NewModule(ModuleMainForce, map[string]any{"hot_money_bid_ask_bonus": 1.5}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected config error for bonus > 1, got %v", err)
	}
}
