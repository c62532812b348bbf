package analyzer

import (
	"fmt"
	"math"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
	sd "fund-burying-backend/internal/stockdata"
)

// 资金风格
const (
	FundStyleSteady       = "steady"       // 稳定持续流入
	FundStylePullback     = "pullback"     // 逢低吸纳
	FundStyleTail         = "tail"         // 尾盘集中流入
	FundStyleDistribution = "distribution" // 流出或派发
	FundStyleMixed        = "mixed"
)

var fundStyleNames = map[string]string{
	FundStyleSteady:       "稳定流入",
	FundStylePullback:     "逢低吸纳",
	FundStyleTail:         "尾盘吸筹",
	FundStyleDistribution: "流出派发",
	FundStyleMixed:        "混合",
}

// CapTierConfig 按市值分档的资金/市值比阈值（市值单位：亿元）
type CapTierConfig struct {
	SmallCapMax float64   `json:"small_cap_max"`
	MidCapMax   float64   `json:"mid_cap_max"`
	SmallCap    Threshold `json:"small_cap"`
	MidCap      Threshold `json:"mid_cap"`
	LargeCap    Threshold `json:"large_cap"`
}

func (c CapTierConfig) tier(capYi float64) (string, Threshold) {
	switch {
	case capYi < c.SmallCapMax:
		return "small_cap", c.SmallCap
	case capYi <= c.MidCapMax:
		return "mid_cap", c.MidCap
	default:
		return "large_cap", c.LargeCap
	}
}

// FundStyleConfig 资金风格分类参数
type FundStyleConfig struct {
	TailShare          float64            `json:"tail_share"`
	PullbackShare      float64            `json:"pullback_share"`
	SteadyDaysRatio    float64            `json:"steady_days_ratio"`
	SteadyMaxCV        float64            `json:"steady_max_cv"`
	DistributionBidAsk float64            `json:"distribution_bid_ask"`
	Scores             map[string]float64 `json:"scores"`
}

// FundFlowConfig 资金流向模块配置
type FundFlowConfig struct {
	Weight          float64 `json:"weight"`
	LookbackDays    int     `json:"lookback_days"`
	MinRecords      int     `json:"min_records"`
	RecentDays      int     `json:"recent_days"`
	FlatPriceChange float64 `json:"flat_price_change"` // 视为横盘的涨幅上限（%）
	SupportBand     float64 `json:"support_band"`
	ResistanceBand  float64 `json:"resistance_band"`

	ContinuousInflowDays         Threshold           `json:"continuous_inflow_days"`
	InflowDaysRatio              Threshold           `json:"inflow_days_ratio"`
	InflowToCap                  CapTierConfig       `json:"inflow_to_cap_ratio"`
	PriceInflowCorrelation       Threshold           `json:"price_inflow_correlation"`
	LargeOrderRatio              Threshold           `json:"large_order_ratio"`
	FundStyle                    FundStyleConfig     `json:"fund_style"`
	InflowAcceleration           scoring.TargetRange `json:"inflow_acceleration"`
	InflowRecentRatio            scoring.TargetRange `json:"inflow_recent_ratio"`
	VolumePriceDivergence        Threshold           `json:"volume_price_divergence"`
	SupportLevelBuying           Threshold           `json:"support_level_buying"`
	BreakthroughFundAccumulation Threshold           `json:"breakthrough_fund_accumulation"`

	IndicatorWeights IndicatorWeights `json:"indicator_weights"`
}

// DefaultFundFlowConfig 默认配置
func DefaultFundFlowConfig() FundFlowConfig {
	return FundFlowConfig{
		Weight:          0.30,
		LookbackDays:    20,
		MinRecords:      20,
		RecentDays:      5,
		FlatPriceChange: 0.5,
		SupportBand:     0.03,
		ResistanceBand:  0.03,

		ContinuousInflowDays: Threshold{MinOK: 3, MinFull: 10},
		InflowDaysRatio:      Threshold{MinOK: 0.5, MinFull: 0.8},
		InflowToCap: CapTierConfig{
			SmallCapMax: 50,
			MidCapMax:   200,
			SmallCap:    Threshold{MinOK: 0.02, MinFull: 0.05},
			MidCap:      Threshold{MinOK: 0.01, MinFull: 0.03},
			LargeCap:    Threshold{MinOK: 0.005, MinFull: 0.015},
		},
		PriceInflowCorrelation: Threshold{MinOK: 0.1, MinFull: 0.6, Invert: true},
		LargeOrderRatio:        Threshold{MinOK: 0.3, MinFull: 0.6},
		FundStyle: FundStyleConfig{
			TailShare:          0.5,
			PullbackShare:      0.5,
			SteadyDaysRatio:    0.6,
			SteadyMaxCV:        1.0,
			DistributionBidAsk: 0.9,
			Scores: map[string]float64{
				FundStyleSteady:       100,
				FundStylePullback:     85,
				FundStyleTail:         75,
				FundStyleMixed:        50,
				FundStyleDistribution: 10,
			},
		},
		InflowAcceleration:           scoring.TargetRange{Low: 0.1, High: 1.0, Tolerance: 0.5},
		InflowRecentRatio:            scoring.TargetRange{Low: 0.25, High: 0.5, Tolerance: 0.25},
		VolumePriceDivergence:        Threshold{MinOK: 0.2, MinFull: 0.5},
		SupportLevelBuying:           Threshold{MinOK: 0.2, MinFull: 0.5},
		BreakthroughFundAccumulation: Threshold{MinOK: 0.1, MinFull: 0.4},

		IndicatorWeights: IndicatorWeights{
			"continuous_inflow_days":         15,
			"inflow_days_ratio":              8,
			"inflow_to_cap_ratio":            15,
			"price_inflow_correlation":       14,
			"large_order_ratio":              8,
			"fund_style":                     8,
			"inflow_acceleration":            6,
			"inflow_recent_ratio":            5,
			"volume_price_divergence":        8,
			"support_level_buying":           7,
			"breakthrough_fund_accumulation": 6,
		},
	}
}

func (c FundFlowConfig) validate() error {
	m := ModuleFundFlow
	if err := validateModuleWeight(m, c.Weight); err != nil {
		return err
	}
	if err := validateWindow(m, c.LookbackDays, c.MinRecords); err != nil {
		return err
	}
	if c.RecentDays < 1 {
		return invalidConfig(m, "recent_days 必须 >= 1")
	}
	if c.InflowToCap.SmallCapMax > c.InflowToCap.MidCapMax {
		return invalidConfig(m, "small_cap_max 不能大于 mid_cap_max")
	}
	for name, t := range map[string]Threshold{
		"continuous_inflow_days":         c.ContinuousInflowDays,
		"inflow_days_ratio":              c.InflowDaysRatio,
		"inflow_to_cap_ratio.small_cap":  c.InflowToCap.SmallCap,
		"inflow_to_cap_ratio.mid_cap":    c.InflowToCap.MidCap,
		"inflow_to_cap_ratio.large_cap":  c.InflowToCap.LargeCap,
		"price_inflow_correlation":       c.PriceInflowCorrelation,
		"large_order_ratio":              c.LargeOrderRatio,
		"volume_price_divergence":        c.VolumePriceDivergence,
		"support_level_buying":           c.SupportLevelBuying,
		"breakthrough_fund_accumulation": c.BreakthroughFundAccumulation,
	} {
		if err := t.validate(m, name); err != nil {
			return err
		}
	}
	if err := validateRange(m, "inflow_acceleration", c.InflowAcceleration); err != nil {
		return err
	}
	if err := validateRange(m, "inflow_recent_ratio", c.InflowRecentRatio); err != nil {
		return err
	}
	return c.IndicatorWeights.validate(m)
}

// FundFlowModule 资金流向分析：流入持续性、资金质量、量价配合
type FundFlowModule struct {
	cfg FundFlowConfig
}

// NewFundFlowModule 用完整配置构造模块
func NewFundFlowModule(cfg FundFlowConfig) (*FundFlowModule, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &FundFlowModule{cfg: cfg}, nil
}

func (m *FundFlowModule) Name() string    { return ModuleFundFlow }
func (m *FundFlowModule) Weight() float64 { return m.cfg.Weight }
func (m *FundFlowModule) Description() string {
	return "资金流向分析：主力资金流入的持续性、质量与量价背离"
}
func (m *FundFlowModule) DefaultConfig() any { return DefaultFundFlowConfig() }

// Config 当前生效配置
func (m *FundFlowModule) Config() FundFlowConfig { return m.cfg }

func (m *FundFlowModule) Analyze(series model.StockSeries, meta model.StockMeta, _ model.MarketContext) (*model.AnalysisResult, error) {
	cfg := m.cfg
	window, err := validateSeries(m.Name(), series, requiredFields(model.FieldFundFlow), cfg.LookbackDays, cfg.MinRecords)
	if err != nil {
		return nil, err
	}

	closes := window.Column(model.FieldClose)
	flows := window.Column(model.FieldFundFlow)
	pct := sd.PctChanges(closes)
	n := len(flows)
	b := model.NewResultBuilder()

	// 流入方向与持续性
	run := 0
	for i := n - 1; i >= 0 && flows[i] > 0; i-- {
		run++
	}
	positive, valid := 0, 0
	for _, f := range flows {
		if !scoring.Finite(f) {
			continue
		}
		valid++
		if f > 0 {
			positive++
		}
	}
	daysRatio := ratio(float64(positive), float64(valid))
	totalInflow := sd.Sum(flows)

	recordValue(b, "continuous_inflow_days", float64(run), cfg.ContinuousInflowDays.Score)
	recordValue(b, "inflow_days_ratio", daysRatio, cfg.InflowDaysRatio.Score)
	recordRaw(b, "total_inflow", totalInflow)

	capYi := meta.MarketCapFloat()
	tierName, tierThreshold := cfg.InflowToCap.tier(capYi)
	capRatio := math.NaN()
	if capYi > 0 {
		capRatio = ratio(totalInflow, capYi*1e8)
	}
	recordValue(b, "inflow_to_cap_ratio", capRatio, tierThreshold.Score)

	corr, ok := sd.Pearson(pct, flows)
	if !ok {
		corr = math.NaN()
	}
	recordValue(b, "price_inflow_correlation", corr, cfg.PriceInflowCorrelation.Score)

	// 资金质量
	largeRatio := math.NaN()
	if window.HasField(model.FieldLargeOrderBuy) && window.HasField(model.FieldLargeOrderSell) {
		largeRatio = ratio(sd.Sum(window.Column(model.FieldLargeOrderBuy))+sd.Sum(window.Column(model.FieldLargeOrderSell)),
			sd.Sum(window.Column(model.FieldAmount)))
	}
	recordValue(b, "large_order_ratio", largeRatio, cfg.LargeOrderRatio.Score)

	style := classifyFundStyle(cfg.FundStyle, window, flows, pct, totalInflow, daysRatio)
	recordLabel(b, "fund_style", style, cfg.FundStyle.Scores)

	accel := math.NaN()
	recentDays := cfg.RecentDays
	if n >= 2*recentDays {
		recentAvg := sd.Mean(flows[n-recentDays:])
		priorAvg := sd.Mean(flows[n-2*recentDays : n-recentDays])
		if priorAvg != 0 {
			accel = (recentAvg - priorAvg) / math.Abs(priorAvg)
		}
	}
	recordValue(b, "inflow_acceleration", accel, func(v float64) float64 {
		return scoring.RatioScore(v, cfg.InflowAcceleration)
	})

	recentRatio := math.NaN()
	if totalInflow > 0 && n >= recentDays {
		recentRatio = sd.Sum(flows[n-recentDays:]) / totalInflow
	}
	recordValue(b, "inflow_recent_ratio", recentRatio, func(v float64) float64 {
		return scoring.RatioScore(v, cfg.InflowRecentRatio)
	})

	// 量价配合
	divergent, paired := 0, 0
	for i := 1; i < n; i++ {
		if !scoring.Finite(flows[i]) || !scoring.Finite(pct[i]) {
			continue
		}
		paired++
		if flows[i] > 0 && pct[i] <= cfg.FlatPriceChange {
			divergent++
		}
	}
	recordValue(b, "volume_price_divergence", ratio(float64(divergent), float64(paired)), cfg.VolumePriceDivergence.Score)

	buying := flows
	if window.HasField(model.FieldLargeOrderNetInflow) {
		buying = window.Column(model.FieldLargeOrderNetInflow)
	}
	support := sd.MinSlice(window.Column(model.FieldLow))
	supportShare := positiveShare(buying, func(i int) bool {
		return closes[i] <= support*(1+cfg.SupportBand)
	})
	recordValue(b, "support_level_buying", supportShare, cfg.SupportLevelBuying.Score)

	resistance := sd.MaxSlice(window.Column(model.FieldHigh))
	breakShare := positiveShare(flows, func(i int) bool {
		return closes[i] >= resistance*(1-cfg.ResistanceBand)
	})
	recordValue(b, "breakthrough_fund_accumulation", breakShare, cfg.BreakthroughFundAccumulation.Score)

	b.Detail("window_days", n)
	b.Detail("cap_tier", map[string]any{
		"tier":      tierName,
		"threshold": tierThreshold,
	})
	b.Detail("price_levels", map[string]any{
		"support":    support,
		"resistance": resistance,
	})
	b.Chart("dates", window.Dates())
	b.Chart("fund_flow", chartSeries(flows))
	b.Chart("prices", chartSeries(closes))

	return finish(m.Name(), b, cfg.IndicatorWeights, func(score float64) string {
		return fmt.Sprintf("资金流向%s(%.1f分)：近%d日主力净流入%.2f亿元，连续流入%d天，资金风格%s",
			scoreLevel(score), score, n, totalInflow/1e8, run, fundStyleNames[style])
	})
}

// positiveShare 满足条件的日子上的正向资金占全部正向资金的比例
func positiveShare(flows []float64, cond func(i int) bool) float64 {
	var hit, total float64
	for i, f := range flows {
		if !scoring.Finite(f) || f <= 0 {
			continue
		}
		total += f
		if cond(i) {
			hit += f
		}
	}
	return ratio(hit, total)
}

func classifyFundStyle(cfg FundStyleConfig, window model.StockSeries, flows, pct []float64, totalInflow, daysRatio float64) string {
	if totalInflow <= 0 {
		return FundStyleDistribution
	}
	if window.HasField(model.FieldLargeOrderBuy) && window.HasField(model.FieldLargeOrderSell) {
		bidAsk := ratio(sd.Sum(window.Column(model.FieldLargeOrderBuy)), sd.Sum(window.Column(model.FieldLargeOrderSell)))
		if scoring.Finite(bidAsk) && bidAsk < cfg.DistributionBidAsk {
			return FundStyleDistribution
		}
	}
	if window.HasField(model.FieldClosingFundFlow) {
		closing := window.Column(model.FieldClosingFundFlow)
		var closingIn float64
		for _, v := range closing {
			if scoring.Finite(v) && v > 0 {
				closingIn += v
			}
		}
		if share := ratio(closingIn, positiveShareTotal(flows)); scoring.Finite(share) && share >= cfg.TailShare {
			return FundStyleTail
		}
	}
	pullback := positiveShare(flows, func(i int) bool { return scoring.Finite(pct[i]) && pct[i] < 0 })
	if scoring.Finite(pullback) && pullback >= cfg.PullbackShare {
		return FundStylePullback
	}
	var inflows []float64
	for _, f := range flows {
		if scoring.Finite(f) && f > 0 {
			inflows = append(inflows, f)
		}
	}
	mean := sd.Mean(inflows)
	cv := math.NaN()
	if len(inflows) >= 2 && mean > 0 {
		cv = sd.StdDev(inflows) / mean
	}
	if daysRatio >= cfg.SteadyDaysRatio && scoring.Finite(cv) && cv <= cfg.SteadyMaxCV {
		return FundStyleSteady
	}
	return FundStyleMixed
}

func positiveShareTotal(flows []float64) float64 {
	var total float64
	for _, f := range flows {
		if scoring.Finite(f) && f > 0 {
			total += f
		}
	}
	return total
}
