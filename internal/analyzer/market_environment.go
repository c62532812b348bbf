package analyzer

import (
	"fmt"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
)

// 市场风格
const (
	StyleSmallCap = "small_cap"
	StyleMidCap   = "mid_cap"
	StyleLargeCap = "large_cap"
	StyleBalanced = "balanced"
)

// 风格匹配结果
const (
	StyleMatch    = "match"
	StyleNeutral  = "balanced"
	StyleAdjacent = "adjacent"
	StyleMismatch = "mismatch"
)

// MarketEnvironmentConfig 市场环境模块配置
type MarketEnvironmentConfig struct {
	Weight       float64 `json:"weight"`
	LookbackDays int     `json:"lookback_days"`
	MinRecords   int     `json:"min_records"`
	SmallCapMax  float64 `json:"small_cap_max"` // 亿元
	MidCapMax    float64 `json:"mid_cap_max"`

	// 市场结构
	StyleMatchScores   map[string]float64  `json:"style_match_scores"`
	MarketStatusScores map[string]float64  `json:"market_status_scores"`
	Sentiment          scoring.TargetRange `json:"sentiment_position"`
	MarketFundFlow     scoring.TargetRange `json:"market_fund_flow_ratio"`
	NorthboundFlow     Threshold           `json:"northbound_flow"`

	// 板块联动
	RelativeStrength scoring.TargetRange `json:"relative_strength"`
	SectorFundFlow   Threshold           `json:"sector_fund_flow"`
	SectorDiffusion  scoring.TargetRange `json:"sector_diffusion"`
	SectorRotation   scoring.TargetRange `json:"sector_rotation_position"`

	// 估值安全边际
	PEPercentile Threshold `json:"pe_percentile"`
	PBPercentile Threshold `json:"pb_percentile"`

	IndicatorWeights IndicatorWeights `json:"indicator_weights"`
}

// DefaultMarketEnvironmentConfig 默认配置：市场结构 40、板块联动 40、估值 20
func DefaultMarketEnvironmentConfig() MarketEnvironmentConfig {
	return MarketEnvironmentConfig{
		Weight:       0.15,
		LookbackDays: 20,
		MinRecords:   20,
		SmallCapMax:  50,
		MidCapMax:    200,

		StyleMatchScores: map[string]float64{
			StyleMatch:    100,
			StyleNeutral:  70,
			StyleAdjacent: 40,
			StyleMismatch: 0,
		},
		// 震荡市 > 熊市 > 牛市
		MarketStatusScores: map[string]float64{
			string(model.MarketShock): 100,
			string(model.MarketBear):  70,
			string(model.MarketBull):  50,
		},
		Sentiment:      scoring.TargetRange{Low: 30, High: 70, Tolerance: 30},
		MarketFundFlow: scoring.TargetRange{Low: -0.03, High: 0.01, Tolerance: 0.05},
		NorthboundFlow: Threshold{MinOK: 0, MinFull: 50},

		RelativeStrength: scoring.TargetRange{Low: -1, High: 3, Tolerance: 3},
		SectorFundFlow:   Threshold{MinOK: 0, MinFull: 10},
		SectorDiffusion:  scoring.TargetRange{Low: 0.4, High: 0.7, Tolerance: 0.3},
		SectorRotation:   scoring.TargetRange{Low: 0.2, High: 0.6, Tolerance: 0.3},

		PEPercentile: Threshold{MinOK: 0.3, MinFull: 0.8, Invert: true},
		PBPercentile: Threshold{MinOK: 0.3, MinFull: 0.8, Invert: true},

		IndicatorWeights: IndicatorWeights{
			"style_match":            10,
			"market_status":          8,
			"sentiment_position":     8,
			"market_fund_flow_ratio": 7,
			"northbound_flow":        7,

			"relative_strength":        10,
			"sector_fund_flow":         12,
			"sector_diffusion":         8,
			"sector_rotation_position": 10,

			"pe_percentile": 12,
			"pb_percentile": 8,
		},
	}
}

func (c MarketEnvironmentConfig) validate() error {
	m := ModuleMarketEnvironment
	if err := validateModuleWeight(m, c.Weight); err != nil {
		return err
	}
	if err := validateWindow(m, c.LookbackDays, c.MinRecords); err != nil {
		return err
	}
	if c.SmallCapMax > c.MidCapMax {
		return invalidConfig(m, "small_cap_max 不能大于 mid_cap_max")
	}
	for name, r := range map[string]scoring.TargetRange{
		"sentiment_position":       c.Sentiment,
		"market_fund_flow_ratio":   c.MarketFundFlow,
		"relative_strength":        c.RelativeStrength,
		"sector_diffusion":         c.SectorDiffusion,
		"sector_rotation_position": c.SectorRotation,
	} {
		if err := validateRange(m, name, r); err != nil {
			return err
		}
	}
	for name, t := range map[string]Threshold{
		"northbound_flow":  c.NorthboundFlow,
		"sector_fund_flow": c.SectorFundFlow,
		"pe_percentile":    c.PEPercentile,
		"pb_percentile":    c.PBPercentile,
	} {
		if err := t.validate(m, name); err != nil {
			return err
		}
	}
	return c.IndicatorWeights.validate(m)
}

// MarketEnvironmentModule 市场环境是否支持潜伏逻辑
type MarketEnvironmentModule struct {
	cfg MarketEnvironmentConfig
}

func NewMarketEnvironmentModule(cfg MarketEnvironmentConfig) (*MarketEnvironmentModule, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MarketEnvironmentModule{cfg: cfg}, nil
}

func (m *MarketEnvironmentModule) Name() string    { return ModuleMarketEnvironment }
func (m *MarketEnvironmentModule) Weight() float64 { return m.cfg.Weight }
func (m *MarketEnvironmentModule) Description() string {
	return "市场环境分析：市场结构、板块联动与估值安全边际"
}
func (m *MarketEnvironmentModule) DefaultConfig() any { return DefaultMarketEnvironmentConfig() }

func (m *MarketEnvironmentModule) Analyze(series model.StockSeries, meta model.StockMeta, mc model.MarketContext) (*model.AnalysisResult, error) {
	cfg := m.cfg
	if _, err := validateSeries(m.Name(), series, requiredFields(), cfg.LookbackDays, cfg.MinRecords); err != nil {
		return nil, err
	}
	b := model.NewResultBuilder()
	rangeScore := func(r scoring.TargetRange) func(float64) float64 {
		return func(v float64) float64 { return scoring.RatioScore(v, r) }
	}

	// 市场结构
	stockStyle := capStyle(meta.MarketCapFloat(), cfg.SmallCapMax, cfg.MidCapMax)
	recordLabel(b, "style_match", styleMatch(stockStyle, mc.MarketStyle), cfg.StyleMatchScores)
	recordLabel(b, "market_status", string(mc.MarketStatus), cfg.MarketStatusScores)
	recordValue(b, "sentiment_position", optional(mc.MarketSentimentIndex), rangeScore(cfg.Sentiment))

	fundRatio := nan
	if flow, ok := model.Float(mc.MarketMoneyFlow); ok {
		if turnover, ok := model.Float(mc.MarketTurnover); ok && turnover > 0 {
			fundRatio = flow / turnover
		}
	}
	recordValue(b, "market_fund_flow_ratio", fundRatio, rangeScore(cfg.MarketFundFlow))
	recordValue(b, "northbound_flow", optional(mc.NorthboundFlow), cfg.NorthboundFlow.Score)

	// 板块联动
	strength := nan
	if ind, ok := model.Float(mc.IndustryPriceChange); ok {
		if idx, ok := model.Float(mc.IndexPriceChange); ok {
			strength = ind - idx
		}
	}
	recordValue(b, "relative_strength", strength, rangeScore(cfg.RelativeStrength))
	recordValue(b, "sector_fund_flow", optional(mc.IndustryFundFlow), cfg.SectorFundFlow.Score)
	recordValue(b, "sector_diffusion", optional(mc.SectorDiffusion), rangeScore(cfg.SectorDiffusion))
	recordValue(b, "sector_rotation_position", optional(mc.SectorRotationPercentile), rangeScore(cfg.SectorRotation))

	// 估值安全边际
	pe, pb := nan, nan
	if v := mc.IndustryValuation; v != nil {
		pe, pb = optional(v.PEPercentile), optional(v.PBPercentile)
	}
	recordValue(b, "pe_percentile", pe, cfg.PEPercentile.Score)
	recordValue(b, "pb_percentile", pb, cfg.PBPercentile.Score)

	b.Detail("stock_style", stockStyle)
	b.Detail("market_style", mc.MarketStyle)
	b.Detail("industry", meta.Industry)

	return finish(m.Name(), b, cfg.IndicatorWeights, func(score float64) string {
		status := string(mc.MarketStatus)
		if status == "" {
			status = "未知"
		}
		return fmt.Sprintf("市场环境%s(%.1f分)：市场状态%s，%s行业相对强度%s",
			scoreLevel(score), score, status, meta.Industry, formatOptional(strength, "%.2f%%"))
	})
}

func capStyle(capYi, smallMax, midMax float64) string {
	switch {
	case capYi <= 0:
		return ""
	case capYi < smallMax:
		return StyleSmallCap
	case capYi <= midMax:
		return StyleMidCap
	default:
		return StyleLargeCap
	}
}

var styleOrder = map[string]int{StyleSmallCap: 0, StyleMidCap: 1, StyleLargeCap: 2}

func styleMatch(stock, market string) string {
	if stock == "" || market == "" {
		return ""
	}
	if market == StyleBalanced {
		return StyleNeutral
	}
	mi, ok := styleOrder[market]
	if !ok {
		return ""
	}
	switch d := styleOrder[stock] - mi; {
	case d == 0:
		return StyleMatch
	case d == 1 || d == -1:
		return StyleAdjacent
	default:
		return StyleMismatch
	}
}

func formatOptional(v float64, format string) string {
	if !scoring.Finite(v) {
		return "未知"
	}
	return fmt.Sprintf(format, v)
}
