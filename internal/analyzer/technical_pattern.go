package analyzer

import (
	"fmt"
	"math"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
	sd "fund-burying-backend/internal/stockdata"
)

// TechnicalPatternConfig 技术形态模块配置
type TechnicalPatternConfig struct {
	Weight       float64 `json:"weight"`
	LookbackDays int     `json:"lookback_days"`
	MinRecords   int     `json:"min_records"`

	BollingerPeriod    int     `json:"bollinger_period"`
	BollingerK         float64 `json:"bollinger_k"`
	SegmentDays        int     `json:"segment_days"`        // 支撑/压力线分段天数
	ConsolidationBand  float64 `json:"consolidation_band"`  // 横盘振幅上限
	LongShadowRatio    float64 `json:"long_shadow_ratio"`   // 长下影线占振幅比例
	BreakoutLookback   int     `json:"breakout_lookback"`   // 假突破参考区间
	ShakeoutDrop       float64 `json:"shakeout_drop"`       // 盘中下探幅度
	ShakeoutRecover    float64 `json:"shakeout_recover"`    // 收盘距开盘的最大回落
	ResistanceBand     float64 `json:"resistance_band"`     // 触及压力位的距离
	ResistanceTestGap  int     `json:"resistance_test_gap"` // 两次测试的最小间隔
	ClosingRallyWindow int     `json:"closing_rally_window"`

	VolatilityDecrease   Threshold `json:"volatility_decrease"`
	BollingerContraction Threshold `json:"bollinger_contraction"`
	SupportSlope         Threshold `json:"support_slope"`
	ResistanceFlatness   Threshold `json:"resistance_flatness"`
	ConsolidationDays    Threshold `json:"consolidation_days"`

	LongLowerShadowRatio  Threshold `json:"long_lower_shadow_ratio"`
	FalseBreakoutCount    Threshold `json:"false_breakout_count"`
	IntradayShakeoutCount Threshold `json:"intraday_shakeout_count"`
	ClosingRallyStrength  Threshold `json:"closing_rally_strength"`

	ResistanceTestCount    Threshold `json:"resistance_test_count"`
	TestIntervalShrinking  Threshold `json:"test_interval_shrinking"`
	ResistanceVolumeRising Threshold `json:"resistance_volume_rising"`
	MAConvergence          Threshold `json:"ma_convergence"`
	MACDMinRecords         int       `json:"macd_min_records"`

	IndicatorWeights IndicatorWeights `json:"indicator_weights"`
}

// DefaultTechnicalPatternConfig 默认配置：底部形态 45、洗盘 35、突破前兆 20
func DefaultTechnicalPatternConfig() TechnicalPatternConfig {
	return TechnicalPatternConfig{
		Weight:       0.20,
		LookbackDays: 60,
		MinRecords:   30,

		BollingerPeriod:    20,
		BollingerK:         2,
		SegmentDays:        5,
		ConsolidationBand:  0.10,
		LongShadowRatio:    0.5,
		BreakoutLookback:   10,
		ShakeoutDrop:       0.03,
		ShakeoutRecover:    0.01,
		ResistanceBand:     0.02,
		ResistanceTestGap:  3,
		ClosingRallyWindow: 20,

		VolatilityDecrease:   Threshold{MinOK: 0, MinFull: 0.4},
		BollingerContraction: Threshold{MinOK: 0.1, MinFull: 0.5},
		SupportSlope:         Threshold{MinOK: 0, MinFull: 0.02},
		ResistanceFlatness:   Threshold{MinOK: 0.005, MinFull: 0.03, Invert: true},
		ConsolidationDays:    Threshold{MinOK: 10, MinFull: 30},

		LongLowerShadowRatio:  Threshold{MinOK: 0.05, MinFull: 0.2},
		FalseBreakoutCount:    Threshold{MinOK: 0, MinFull: 3},
		IntradayShakeoutCount: Threshold{MinOK: 0, MinFull: 4},
		ClosingRallyStrength:  Threshold{MinOK: 0.5, MinFull: 0.75},

		ResistanceTestCount:    Threshold{MinOK: 1, MinFull: 4},
		TestIntervalShrinking:  Threshold{MinOK: 0, MinFull: 0.5},
		ResistanceVolumeRising: Threshold{MinOK: 0, MinFull: 0.1},
		MAConvergence:          Threshold{MinOK: 0.01, MinFull: 0.05, Invert: true},
		MACDMinRecords:         34,

		IndicatorWeights: IndicatorWeights{
			"volatility_decrease":   12,
			"bollinger_contraction": 10,
			"support_slope":         8,
			"resistance_flatness":   7,
			"consolidation_days":    8,

			"long_lower_shadow_ratio": 9,
			"false_breakout_count":    9,
			"intraday_shakeout_count": 8,
			"closing_rally_strength":  9,

			"resistance_test_count":    5,
			"test_interval_shrinking":  4,
			"resistance_volume_rising": 3,
			"ma_convergence":           4,
			"macd_bottom_divergence":   4,
		},
	}
}

func (c TechnicalPatternConfig) validate() error {
	m := ModuleTechnicalPattern
	if err := validateModuleWeight(m, c.Weight); err != nil {
		return err
	}
	if err := validateWindow(m, c.LookbackDays, c.MinRecords); err != nil {
		return err
	}
	if c.BollingerPeriod < 2 || c.SegmentDays < 1 || c.BreakoutLookback < 1 || c.ResistanceTestGap < 1 || c.ClosingRallyWindow < 1 {
		return invalidConfig(m, "周期参数必须为正")
	}
	for name, t := range map[string]Threshold{
		"volatility_decrease":      c.VolatilityDecrease,
		"bollinger_contraction":    c.BollingerContraction,
		"support_slope":            c.SupportSlope,
		"resistance_flatness":      c.ResistanceFlatness,
		"consolidation_days":       c.ConsolidationDays,
		"long_lower_shadow_ratio":  c.LongLowerShadowRatio,
		"false_breakout_count":     c.FalseBreakoutCount,
		"intraday_shakeout_count":  c.IntradayShakeoutCount,
		"closing_rally_strength":   c.ClosingRallyStrength,
		"resistance_test_count":    c.ResistanceTestCount,
		"test_interval_shrinking":  c.TestIntervalShrinking,
		"resistance_volume_rising": c.ResistanceVolumeRising,
		"ma_convergence":           c.MAConvergence,
	} {
		if err := t.validate(m, name); err != nil {
			return err
		}
	}
	return c.IndicatorWeights.validate(m)
}

// TechnicalPatternModule 洗盘与底部形态识别
type TechnicalPatternModule struct {
	cfg TechnicalPatternConfig
}

func NewTechnicalPatternModule(cfg TechnicalPatternConfig) (*TechnicalPatternModule, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TechnicalPatternModule{cfg: cfg}, nil
}

func (m *TechnicalPatternModule) Name() string    { return ModuleTechnicalPattern }
func (m *TechnicalPatternModule) Weight() float64 { return m.cfg.Weight }
func (m *TechnicalPatternModule) Description() string {
	return "技术形态分析：底部构筑、洗盘信号与突破前兆"
}
func (m *TechnicalPatternModule) DefaultConfig() any { return DefaultTechnicalPatternConfig() }

type bars struct {
	open, high, low, close, volume []float64
}

func (m *TechnicalPatternModule) Analyze(series model.StockSeries, _ model.StockMeta, _ model.MarketContext) (*model.AnalysisResult, error) {
	cfg := m.cfg
	window, err := validateSeries(m.Name(), series, requiredFields(), cfg.LookbackDays, cfg.MinRecords)
	if err != nil {
		return nil, err
	}
	k := bars{
		open:   window.Column(model.FieldOpen),
		high:   window.Column(model.FieldHigh),
		low:    window.Column(model.FieldLow),
		close:  window.Column(model.FieldClose),
		volume: window.Column(model.FieldVolume),
	}
	n := window.Len()
	b := model.NewResultBuilder()

	// 底部形态
	pct := sd.PctChanges(k.close)
	half := n / 2
	volDecrease := math.NaN()
	if early := sd.StdDev(pct[:half]); scoring.Finite(early) && early > 0 {
		volDecrease = (early - sd.StdDev(pct[half:])) / early
	}
	recordValue(b, "volatility_decrease", volDecrease, cfg.VolatilityDecrease.Score)

	contraction := math.NaN()
	widths := sd.Clean(sd.BollingerWidth(k.close, cfg.BollingerPeriod, cfg.BollingerK))
	if len(widths) >= 2 {
		if maxW := sd.MaxSlice(widths); maxW > 0 {
			contraction = 1 - widths[len(widths)-1]/maxW
		}
	}
	recordValue(b, "bollinger_contraction", contraction, cfg.BollingerContraction.Score)

	segLows, segHighs := segmentExtremes(k.low, k.high, cfg.SegmentDays)
	recordValue(b, "support_slope", sd.Slope(segLows), cfg.SupportSlope.Score)
	flatness := sd.Slope(segHighs)
	if scoring.Finite(flatness) {
		flatness = math.Abs(flatness)
	}
	recordValue(b, "resistance_flatness", flatness, cfg.ResistanceFlatness.Score)

	consolidation := consolidationDays(k.close, cfg.ConsolidationBand)
	recordValue(b, "consolidation_days", float64(consolidation), cfg.ConsolidationDays.Score)

	// 洗盘信号
	shadowCount, rangeDays := 0, 0
	for i := 0; i < n; i++ {
		if !(k.high[i] > k.low[i]) {
			continue
		}
		rangeDays++
		if _, lower := sd.ShadowRatios(k.open[i], k.high[i], k.low[i], k.close[i]); lower >= cfg.LongShadowRatio {
			shadowCount++
		}
	}
	recordRaw(b, "long_lower_shadow_count", float64(shadowCount))
	recordValue(b, "long_lower_shadow_ratio", ratio(float64(shadowCount), float64(rangeDays)), cfg.LongLowerShadowRatio.Score)

	falseBreakouts := countFalseBreakouts(k, cfg.BreakoutLookback)
	recordValue(b, "false_breakout_count", float64(falseBreakouts), cfg.FalseBreakoutCount.Score)

	shakeouts := 0
	for i := 0; i < n; i++ {
		if k.open[i] <= 0 {
			continue
		}
		drop := (k.open[i] - k.low[i]) / k.open[i]
		back := (k.open[i] - k.close[i]) / k.open[i]
		if drop >= cfg.ShakeoutDrop && back <= cfg.ShakeoutRecover {
			shakeouts++
		}
	}
	recordValue(b, "intraday_shakeout_count", float64(shakeouts), cfg.IntradayShakeoutCount.Score)

	var positions []float64
	for i := max(0, n-cfg.ClosingRallyWindow); i < n; i++ {
		if r := k.high[i] - k.low[i]; r > 0 {
			positions = append(positions, (k.close[i]-k.low[i])/r)
		}
	}
	recordValue(b, "closing_rally_strength", sd.Mean(positions), cfg.ClosingRallyStrength.Score)

	// 突破前兆
	resistance := sd.MaxSlice(k.high)
	tests := resistanceTests(k.high, resistance, cfg.ResistanceBand, cfg.ResistanceTestGap)
	recordValue(b, "resistance_test_count", float64(len(tests)), cfg.ResistanceTestCount.Score)

	shrinking := math.NaN()
	if len(tests) >= 3 {
		firstGap := float64(tests[1] - tests[0])
		lastGap := float64(tests[len(tests)-1] - tests[len(tests)-2])
		shrinking = (firstGap - lastGap) / firstGap
	}
	recordValue(b, "test_interval_shrinking", shrinking, cfg.TestIntervalShrinking.Score)

	volRising := math.NaN()
	if len(tests) >= 2 {
		testVolumes := make([]float64, len(tests))
		for i, idx := range tests {
			testVolumes[i] = k.volume[idx]
		}
		volRising = sd.Slope(testVolumes)
	}
	recordValue(b, "resistance_volume_rising", volRising, cfg.ResistanceVolumeRising.Score)

	convergence := math.NaN()
	ma5, ma10, ma20 := sd.MA(k.close, 5), sd.MA(k.close, 10), sd.MA(k.close, 20)
	if last := k.close[n-1]; last > 0 && scoring.Finite(ma20) {
		convergence = (math.Max(ma5, math.Max(ma10, ma20)) - math.Min(ma5, math.Min(ma10, ma20))) / last
	}
	recordValue(b, "ma_convergence", convergence, cfg.MAConvergence.Score)

	divergence := math.NaN()
	if n >= cfg.MACDMinRecords {
		divergence = macdBottomDivergence(k.close)
	}
	recordValue(b, "macd_bottom_divergence", divergence, func(v float64) float64 { return v * scoring.MaxScore })

	b.Detail("window_days", n)
	b.Detail("resistance", map[string]any{
		"price":      resistance,
		"test_index": tests,
	})
	b.Detail("moving_averages", map[string]any{
		"ma5":  nullable(ma5),
		"ma10": nullable(ma10),
		"ma20": nullable(ma20),
	})

	return finish(m.Name(), b, cfg.IndicatorWeights, func(score float64) string {
		return fmt.Sprintf("技术形态%s(%.1f分)：横盘%d天，长下影线%d根，压力位测试%d次",
			scoreLevel(score), score, consolidation, shadowCount, len(tests))
	})
}

func nullable(v float64) any {
	if !scoring.Finite(v) {
		return nil
	}
	return v
}

// segmentExtremes 按固定天数分段，取每段最低价和最高价
func segmentExtremes(lows, highs []float64, days int) (segLows, segHighs []float64) {
	for start := 0; start < len(lows); start += days {
		end := min(start+days, len(lows))
		segLows = append(segLows, sd.MinSlice(lows[start:end]))
		segHighs = append(segHighs, sd.MaxSlice(highs[start:end]))
	}
	return segLows, segHighs
}

// consolidationDays 从最后一天往前，收盘价振幅保持在 band 以内的天数
func consolidationDays(closes []float64, band float64) int {
	lo, hi := math.Inf(1), math.Inf(-1)
	days := 0
	for i := len(closes) - 1; i >= 0; i-- {
		c := closes[i]
		if !scoring.Finite(c) || c <= 0 {
			break
		}
		nlo, nhi := math.Min(lo, c), math.Max(hi, c)
		if (nhi-nlo)/nlo > band {
			break
		}
		lo, hi = nlo, nhi
		days++
	}
	return days
}

// countFalseBreakouts 盘中跌破前 lookback 日最低价但收盘收回的次数
func countFalseBreakouts(k bars, lookback int) int {
	count := 0
	for i := lookback; i < len(k.low); i++ {
		support := sd.MinSlice(k.low[i-lookback : i])
		if !scoring.Finite(support) {
			continue
		}
		if k.low[i] < support && k.close[i] >= support {
			count++
		}
	}
	return count
}

// resistanceTests 触及压力位的日期下标，相邻两次至少间隔 gap 天
func resistanceTests(highs []float64, resistance, band float64, gap int) []int {
	var out []int
	if !scoring.Finite(resistance) {
		return out
	}
	for i, h := range highs {
		if !scoring.Finite(h) || h < resistance*(1-band) {
			continue
		}
		if len(out) > 0 && i-out[len(out)-1] < gap {
			continue
		}
		out = append(out, i)
	}
	return out
}

// macdBottomDivergence 后半段创出新低而 DIF 未创新低时为 1，否则为 0
func macdBottomDivergence(closes []float64) float64 {
	dif, _, _ := sd.MACD(closes, 12, 26, 9)
	start := -1
	for i, v := range dif {
		if scoring.Finite(v) {
			start = i
			break
		}
	}
	if start < 0 || len(closes)-start < 4 {
		return math.NaN()
	}
	mid := start + (len(closes)-start)/2
	firstIdx := argMin(closes, start, mid)
	secondIdx := argMin(closes, mid, len(closes))
	if firstIdx < 0 || secondIdx < 0 {
		return math.NaN()
	}
	return boolValue(closes[secondIdx] < closes[firstIdx] && dif[secondIdx] > dif[firstIdx])
}

func argMin(data []float64, from, to int) int {
	idx := -1
	for i := from; i < to; i++ {
		if !scoring.Finite(data[i]) {
			continue
		}
		if idx < 0 || data[i] < data[idx] {
			idx = i
		}
	}
	return idx
}
