package analyzer

import (
	"fmt"
	"math"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
	sd "fund-burying-backend/internal/stockdata"
)

// ShareStructureConfig 股本结构模块配置
type ShareStructureConfig struct {
	Weight       float64 `json:"weight"`
	LookbackDays int     `json:"lookback_days"`
	MinRecords   int     `json:"min_records"`
	ChipBins     int     `json:"chip_bins"` // 筹码分布价格分箱数

	// 换手结构
	AvgTurnover          scoring.TargetRange `json:"avg_turnover_rate"`
	TurnoverStability    Threshold           `json:"turnover_stability"`
	TurnoverTrend        scoring.TargetRange `json:"turnover_trend"`
	ClosingTurnoverRatio Threshold           `json:"closing_turnover_ratio"`

	// 筹码集中
	ShareholderDecreaseRate  Threshold `json:"shareholder_decrease_rate"`
	AvgHoldingIncrease       Threshold `json:"avg_holding_increase"`
	InstitutionHoldingChange Threshold `json:"institution_holding_change"`
	GiniIncrease             Threshold `json:"gini_increase"`
	LockedChipRatio          Threshold `json:"locked_chip_ratio"`

	// 交易结构
	BidAskRatio        scoring.TargetRange `json:"bid_ask_ratio"`
	LargeOrderGrowth   Threshold           `json:"large_order_growth"`
	BlockTradeDiscount Threshold           `json:"block_trade_discount"`

	IndicatorWeights IndicatorWeights `json:"indicator_weights"`
}

// DefaultShareStructureConfig 默认配置：换手 35、集中度 40、交易结构 25
func DefaultShareStructureConfig() ShareStructureConfig {
	return ShareStructureConfig{
		Weight:       0.15,
		LookbackDays: 20,
		MinRecords:   20,
		ChipBins:     10,

		AvgTurnover:          scoring.TargetRange{Low: 1, High: 5, Tolerance: 3},
		TurnoverStability:    Threshold{MinOK: 0.3, MinFull: 1.0, Invert: true},
		TurnoverTrend:        scoring.TargetRange{Low: 0, High: 0.05, Tolerance: 0.05},
		ClosingTurnoverRatio: Threshold{MinOK: 0.1, MinFull: 0.3},

		ShareholderDecreaseRate:  Threshold{MinOK: 0.02, MinFull: 0.10},
		AvgHoldingIncrease:       Threshold{MinOK: 0.02, MinFull: 0.12},
		InstitutionHoldingChange: Threshold{MinOK: 0.5, MinFull: 3},
		GiniIncrease:             Threshold{MinOK: 0.02, MinFull: 0.1},
		LockedChipRatio:          Threshold{MinOK: 0.4, MinFull: 0.7},

		BidAskRatio:        scoring.TargetRange{Low: 1.1, High: 2.0, Tolerance: 0.5},
		LargeOrderGrowth:   Threshold{MinOK: 0, MinFull: 0.1},
		BlockTradeDiscount: Threshold{MinOK: 0, MinFull: 0.08, Invert: true},

		IndicatorWeights: IndicatorWeights{
			"avg_turnover_rate":      10,
			"turnover_stability":     10,
			"turnover_trend":         8,
			"closing_turnover_ratio": 7,

			"shareholder_decrease_rate":  10,
			"avg_holding_increase":       8,
			"institution_holding_change": 8,
			"gini_increase":              7,
			"locked_chip_ratio":          7,

			"bid_ask_ratio":        9,
			"large_order_growth":   8,
			"block_trade_discount": 8,
		},
	}
}

func (c ShareStructureConfig) validate() error {
	m := ModuleShareStructure
	if err := validateModuleWeight(m, c.Weight); err != nil {
		return err
	}
	if err := validateWindow(m, c.LookbackDays, c.MinRecords); err != nil {
		return err
	}
	if c.ChipBins < 2 {
		return invalidConfig(m, "chip_bins 必须 >= 2")
	}
	for name, r := range map[string]scoring.TargetRange{
		"avg_turnover_rate": c.AvgTurnover,
		"turnover_trend":    c.TurnoverTrend,
		"bid_ask_ratio":     c.BidAskRatio,
	} {
		if err := validateRange(m, name, r); err != nil {
			return err
		}
	}
	for name, t := range map[string]Threshold{
		"turnover_stability":         c.TurnoverStability,
		"closing_turnover_ratio":     c.ClosingTurnoverRatio,
		"shareholder_decrease_rate":  c.ShareholderDecreaseRate,
		"avg_holding_increase":       c.AvgHoldingIncrease,
		"institution_holding_change": c.InstitutionHoldingChange,
		"gini_increase":              c.GiniIncrease,
		"locked_chip_ratio":          c.LockedChipRatio,
		"large_order_growth":         c.LargeOrderGrowth,
		"block_trade_discount":       c.BlockTradeDiscount,
	} {
		if err := t.validate(m, name); err != nil {
			return err
		}
	}
	return c.IndicatorWeights.validate(m)
}

// ShareStructureModule 换手结构与筹码集中度分析
type ShareStructureModule struct {
	cfg ShareStructureConfig
}

func NewShareStructureModule(cfg ShareStructureConfig) (*ShareStructureModule, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ShareStructureModule{cfg: cfg}, nil
}

func (m *ShareStructureModule) Name() string    { return ModuleShareStructure }
func (m *ShareStructureModule) Weight() float64 { return m.cfg.Weight }
func (m *ShareStructureModule) Description() string {
	return "股本结构分析：换手率结构、股东集中度、大单交易结构"
}
func (m *ShareStructureModule) DefaultConfig() any { return DefaultShareStructureConfig() }

func (m *ShareStructureModule) Analyze(series model.StockSeries, _ model.StockMeta, _ model.MarketContext) (*model.AnalysisResult, error) {
	cfg := m.cfg
	window, err := validateSeries(m.Name(), series, requiredFields(model.FieldTurnoverRate), cfg.LookbackDays, cfg.MinRecords)
	if err != nil {
		return nil, err
	}
	n := window.Len()
	half := n / 2
	b := model.NewResultBuilder()

	turnover := window.Column(model.FieldTurnoverRate)
	volumes := window.Column(model.FieldVolume)
	amounts := window.Column(model.FieldAmount)

	// 换手结构
	avgTurnover := sd.Mean(turnover)
	recordValue(b, "avg_turnover_rate", avgTurnover, func(v float64) float64 {
		return scoring.RatioScore(v, cfg.AvgTurnover)
	})
	cv := math.NaN()
	if avgTurnover > 0 {
		cv = sd.StdDev(turnover) / avgTurnover
	}
	recordValue(b, "turnover_stability", cv, cfg.TurnoverStability.Score)
	recordValue(b, "turnover_trend", sd.Slope(turnover), func(v float64) float64 {
		return scoring.RatioScore(v, cfg.TurnoverTrend)
	})
	closingRatio := math.NaN()
	if window.HasField(model.FieldClosingVolume) {
		closingRatio = ratio(sd.Sum(window.Column(model.FieldClosingVolume)), sd.Sum(volumes))
	}
	recordValue(b, "closing_turnover_ratio", closingRatio, cfg.ClosingTurnoverRatio.Score)

	// 筹码集中度
	decreaseRate, holdingIncrease := math.NaN(), math.NaN()
	if first, last, ok := sd.FirstLast(window.Column(model.FieldShareholderCount)); ok && first > 0 && last > 0 {
		decreaseRate = (first - last) / first
		// 总股本不变时户均持股与户数成反比
		holdingIncrease = first/last - 1
	}
	recordValue(b, "shareholder_decrease_rate", decreaseRate, cfg.ShareholderDecreaseRate.Score)
	recordValue(b, "avg_holding_increase", holdingIncrease, cfg.AvgHoldingIncrease.Score)

	instChange := math.NaN()
	if first, last, ok := sd.FirstLast(window.Column(model.FieldInstitutionHoldingRatio)); ok {
		instChange = last - first
	}
	recordValue(b, "institution_holding_change", instChange, cfg.InstitutionHoldingChange.Score)

	giniIncrease := math.NaN()
	if half >= 2 {
		closes := window.Column(model.FieldClose)
		early := chipDistribution(closes[:half], volumes[:half], cfg.ChipBins)
		late := chipDistribution(closes[half:], volumes[half:], cfg.ChipBins)
		if early != nil && late != nil {
			giniIncrease = sd.Gini(late) - sd.Gini(early)
		}
	}
	recordValue(b, "gini_increase", giniIncrease, cfg.GiniIncrease.Score)

	locked := lockedChipRatio(turnover)
	recordValue(b, "locked_chip_ratio", locked, cfg.LockedChipRatio.Score)

	// 交易结构
	bidAsk, growth := math.NaN(), math.NaN()
	if window.HasField(model.FieldLargeOrderBuy) && window.HasField(model.FieldLargeOrderSell) {
		buys := window.Column(model.FieldLargeOrderBuy)
		sells := window.Column(model.FieldLargeOrderSell)
		bidAsk = ratio(sd.Sum(buys), sd.Sum(sells))
		if half >= 1 {
			early := ratio(sd.Sum(buys[:half])+sd.Sum(sells[:half]), sd.Sum(amounts[:half]))
			late := ratio(sd.Sum(buys[half:])+sd.Sum(sells[half:]), sd.Sum(amounts[half:]))
			growth = late - early
		}
	}
	recordValue(b, "bid_ask_ratio", bidAsk, func(v float64) float64 {
		return scoring.RatioScore(v, cfg.BidAskRatio)
	})
	recordValue(b, "large_order_growth", growth, cfg.LargeOrderGrowth.Score)

	discount := blockTradeDiscount(window)
	recordValue(b, "block_trade_discount", discount, cfg.BlockTradeDiscount.Score)

	b.Detail("window_days", n)
	b.Detail("turnover_summary", map[string]any{
		"min":  sd.MinSlice(turnover),
		"max":  sd.MaxSlice(turnover),
		"mean": avgTurnover,
	})

	return finish(m.Name(), b, cfg.IndicatorWeights, func(score float64) string {
		return fmt.Sprintf("股本结构%s(%.1f分)：近%d日平均换手%.2f%%，锁定筹码比例%.0f%%",
			scoreLevel(score), score, n, avgTurnover, locked*100)
	})
}

// chipDistribution 按收盘价分箱的成交量分布
func chipDistribution(closes, volumes []float64, bins int) []float64 {
	lo, hi := sd.MinSlice(closes), sd.MaxSlice(closes)
	if !scoring.Finite(lo) || !scoring.Finite(hi) {
		return nil
	}
	out := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for i, c := range closes {
		v := volumes[i]
		if !scoring.Finite(c) || !scoring.Finite(v) || v <= 0 {
			continue
		}
		idx := 0
		if width > 0 {
			idx = int((c - lo) / width)
			if idx >= bins {
				idx = bins - 1
			}
		}
		out[idx] += v
	}
	return out
}

// lockedChipRatio 换手衰减模型：窗口开始时的筹码在之后每日按换手率被换出，剩余部分视为锁定
func lockedChipRatio(turnover []float64) float64 {
	remain := 1.0
	valid := 0
	for _, t := range turnover {
		if !scoring.Finite(t) {
			continue
		}
		valid++
		remain *= 1 - math.Min(math.Max(t, 0), 100)/100
	}
	if valid == 0 {
		return math.NaN()
	}
	return remain
}

// blockTradeDiscount 大宗交易平均折价率（正值为折价，负值为溢价）
func blockTradeDiscount(window model.StockSeries) float64 {
	var sum float64
	count := 0
	for _, r := range window {
		if !r.Has(model.FieldBlockTradePrice) || !r.Has(model.FieldClose) {
			continue
		}
		c := r.Get(model.FieldClose)
		if c <= 0 {
			continue
		}
		sum += (c - r.Get(model.FieldBlockTradePrice)) / c
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}
