package analyzer

import (
	"fmt"
	"math"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
	sd "fund-burying-backend/internal/stockdata"
)

// 主力类型
const (
	MainForceInstitution = "institution"
	MainForceNorthbound  = "northbound"
	MainForceHotMoney    = "hot_money"
	MainForceMixed       = "mixed"
)

var mainForceNames = map[string]string{
	MainForceInstitution: "机构",
	MainForceNorthbound:  "北向资金",
	MainForceHotMoney:    "游资",
	MainForceMixed:       "混合",
}

// 建仓阶段
const (
	StageEarly = "early"
	StageMid   = "mid"
	StageLate  = "late"
)

// MainForceConfig 主力行为模块配置
type MainForceConfig struct {
	Weight       float64 `json:"weight"`
	LookbackDays int     `json:"lookback_days"`
	MinRecords   int     `json:"min_records"`

	// 主力类型识别
	InstitutionRatio       Threshold           `json:"institution_ratio"`
	NorthboundChange       Threshold           `json:"northbound_holding_change"`
	HotMoneyPriceChange    float64             `json:"hot_money_price_change"`  // 视为剧烈波动的单日涨跌幅（%）
	HotMoneyBidAsk         float64             `json:"hot_money_bid_ask"`       // 大单买卖比超过该值视为游资特征
	HotMoneyBidAskBonus    float64             `json:"hot_money_bid_ask_bonus"` // 买卖比触发时游资特征的加成
	HotMoneySignature      Threshold           `json:"hot_money_signature"`
	InstitutionTypeMin     float64             `json:"institution_type_min"` // 机构持股比例（%）
	NorthboundTypeMin      float64             `json:"northbound_type_min"`  // 北向持股变化（百分点）
	MainForceTypeScores    map[string]float64  `json:"main_force_type_scores"`
	EstimatedBuildingDays  float64             `json:"estimated_building_days"`
	BuildingDuration       Threshold           `json:"building_duration_days"`
	BuildingStageRatio     scoring.TargetRange `json:"building_stage_ratio"`
	EarlyStageMax          float64             `json:"early_stage_max"`
	MidStageMax            float64             `json:"mid_stage_max"`
	PullbackBuyingStrength Threshold           `json:"pullback_buying_strength"`

	// 历史形态匹配
	SimilarityMethod    string                `json:"similarity_method"`
	SimilarityThreshold float64               `json:"similarity_threshold"`
	SuccessRateFull     float64               `json:"success_rate_full"` // 成功率达到该值时满分
	Patterns            []AccumulationPattern `json:"patterns"`

	IndicatorWeights IndicatorWeights `json:"indicator_weights"`
}

// DefaultMainForceConfig 默认配置：类型识别 50、建仓节奏 35、形态匹配 15
func DefaultMainForceConfig() MainForceConfig {
	return MainForceConfig{
		Weight:       0.20,
		LookbackDays: 60,
		MinRecords:   20,

		InstitutionRatio:    Threshold{MinOK: 5, MinFull: 20},
		NorthboundChange:    Threshold{MinOK: 0.1, MinFull: 1.0},
		HotMoneyPriceChange: 5,
		HotMoneyBidAsk:      3,
		HotMoneyBidAskBonus: 0.2,
		HotMoneySignature:   Threshold{MinOK: 0.05, MinFull: 0.3, Invert: true},
		InstitutionTypeMin:  10,
		NorthboundTypeMin:   0.5,
		MainForceTypeScores: map[string]float64{
			MainForceInstitution: 100,
			MainForceNorthbound:  90,
			MainForceMixed:       60,
			MainForceHotMoney:    20,
		},
		EstimatedBuildingDays:  40,
		BuildingDuration:       Threshold{MinOK: 10, MinFull: 30},
		BuildingStageRatio:     scoring.TargetRange{Low: 0.33, High: 0.8, Tolerance: 0.33},
		EarlyStageMax:          0.33,
		MidStageMax:            0.8,
		PullbackBuyingStrength: Threshold{MinOK: 0, MinFull: 0.5},

		SimilarityMethod:    SimilarityCosine,
		SimilarityThreshold: 0.8,
		SuccessRateFull:     0.6,
		Patterns:            DefaultPatterns(),

		IndicatorWeights: IndicatorWeights{
			"institution_ratio":         15,
			"northbound_holding_change": 15,
			"hot_money_signature":       10,
			"main_force_type":           10,

			"building_duration_days":   12,
			"building_stage_ratio":     10,
			"pullback_buying_strength": 13,

			"pattern_match": 15,
		},
	}
}

func (c MainForceConfig) validate() error {
	m := ModuleMainForce
	if err := validateModuleWeight(m, c.Weight); err != nil {
		return err
	}
	if err := validateWindow(m, c.LookbackDays, c.MinRecords); err != nil {
		return err
	}
	for name, t := range map[string]Threshold{
		"institution_ratio":         c.InstitutionRatio,
		"northbound_holding_change": c.NorthboundChange,
		"hot_money_signature":       c.HotMoneySignature,
		"building_duration_days":    c.BuildingDuration,
		"pullback_buying_strength":  c.PullbackBuyingStrength,
	} {
		if err := t.validate(m, name); err != nil {
			return err
		}
	}
	if err := validateRange(m, "building_stage_ratio", c.BuildingStageRatio); err != nil {
		return err
	}
	if c.HotMoneyBidAskBonus < 0 || c.HotMoneyBidAskBonus > 1 || !scoring.Finite(c.HotMoneyBidAskBonus) {
		return invalidConfig(m, "hot_money_bid_ask_bonus 必须在0-1之间")
	}
	if c.EstimatedBuildingDays <= 0 {
		return invalidConfig(m, "estimated_building_days 必须大于0")
	}
	if c.EarlyStageMax > c.MidStageMax {
		return invalidConfig(m, "early_stage_max 不能大于 mid_stage_max")
	}
	if c.SimilarityMethod != SimilarityCosine && c.SimilarityMethod != SimilarityEuclidean {
		return invalidConfig(m, "未知相似度算法 %q", c.SimilarityMethod)
	}
	if c.SuccessRateFull <= 0 {
		return invalidConfig(m, "success_rate_full 必须大于0")
	}
	for _, p := range c.Patterns {
		if p.Name == "" || len(p.Curve) < 2 {
			return invalidConfig(m, "形态模板 %q 至少需要2个点", p.Name)
		}
		if p.SuccessRate < 0 || p.SuccessRate > 1 {
			return invalidConfig(m, "形态模板 %q 成功率必须在0-1之间", p.Name)
		}
	}
	return c.IndicatorWeights.validate(m)
}

// MainForceModule 主力类型识别与建仓节奏分析
type MainForceModule struct {
	cfg MainForceConfig
}

func NewMainForceModule(cfg MainForceConfig) (*MainForceModule, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Patterns = append([]AccumulationPattern(nil), cfg.Patterns...)
	return &MainForceModule{cfg: cfg}, nil
}

func (m *MainForceModule) Name() string    { return ModuleMainForce }
func (m *MainForceModule) Weight() float64 { return m.cfg.Weight }
func (m *MainForceModule) Description() string {
	return "主力行为分析：主力类型、建仓节奏与历史吸筹形态匹配"
}
func (m *MainForceModule) DefaultConfig() any { return DefaultMainForceConfig() }

func (m *MainForceModule) Analyze(series model.StockSeries, _ model.StockMeta, _ model.MarketContext) (*model.AnalysisResult, error) {
	cfg := m.cfg
	window, err := validateSeries(m.Name(), series, requiredFields(model.FieldFundFlow), cfg.LookbackDays, cfg.MinRecords)
	if err != nil {
		return nil, err
	}
	n := window.Len()
	flows := window.Column(model.FieldFundFlow)
	pct := sd.PctChanges(window.Column(model.FieldClose))
	b := model.NewResultBuilder()

	// 主力类型识别
	instRatio := math.NaN()
	if col := sd.Clean(window.Column(model.FieldInstitutionHoldingRatio)); len(col) > 0 {
		instRatio = col[len(col)-1]
	}
	recordValue(b, "institution_ratio", instRatio, cfg.InstitutionRatio.Score)

	nbChange := math.NaN()
	if first, last, ok := sd.FirstLast(window.Column(model.FieldNorthboundHoldingRatio)); ok {
		nbChange = last - first
	}
	recordValue(b, "northbound_holding_change", nbChange, cfg.NorthboundChange.Score)

	volatile, priced := 0, 0
	for _, p := range pct {
		if !scoring.Finite(p) {
			continue
		}
		priced++
		if math.Abs(p) >= cfg.HotMoneyPriceChange {
			volatile++
		}
	}
	signature := ratio(float64(volatile), float64(priced))
	bidAsk := math.NaN()
	if window.HasField(model.FieldLargeOrderBuy) && window.HasField(model.FieldLargeOrderSell) {
		bidAsk = ratio(sd.Sum(window.Column(model.FieldLargeOrderBuy)), sd.Sum(window.Column(model.FieldLargeOrderSell)))
	}
	if scoring.Finite(signature) && scoring.Finite(bidAsk) && bidAsk >= cfg.HotMoneyBidAsk {
		signature = math.Min(1, signature+cfg.HotMoneyBidAskBonus)
	}
	recordValue(b, "hot_money_signature", signature, cfg.HotMoneySignature.Score)

	forceType := classifyMainForce(cfg, signature, instRatio, nbChange)
	recordLabel(b, "main_force_type", forceType, cfg.MainForceTypeScores)

	// 建仓节奏：累计资金曲线的最低点视为建仓起点
	cum := sd.Cumulative(flows)
	start := argMin(cum, 0, n)
	duration := math.NaN()
	if start >= 0 && cum[n-1] > cum[start] {
		duration = float64(n - 1 - start)
	}
	recordValue(b, "building_duration_days", duration, cfg.BuildingDuration.Score)

	stageRatio := ratio(duration, cfg.EstimatedBuildingDays)
	stage := ""
	if scoring.Finite(stageRatio) {
		switch {
		case stageRatio < cfg.EarlyStageMax:
			stage = StageEarly
		case stageRatio < cfg.MidStageMax:
			stage = StageMid
		default:
			stage = StageLate
		}
	}
	recordValue(b, "building_stage_ratio", stageRatio, func(v float64) float64 {
		return scoring.RatioScore(v, cfg.BuildingStageRatio)
	})
	if stage == "" {
		b.Indicator("building_stage", nil)
	} else {
		b.Indicator("building_stage", stage)
	}

	var downFlows, absFlows []float64
	for i := range flows {
		if !scoring.Finite(flows[i]) {
			continue
		}
		absFlows = append(absFlows, math.Abs(flows[i]))
		if scoring.Finite(pct[i]) && pct[i] < 0 {
			downFlows = append(downFlows, flows[i])
		}
	}
	pullback := math.NaN()
	if len(downFlows) > 0 {
		pullback = ratio(sd.Mean(downFlows), sd.Mean(absFlows))
	}
	recordValue(b, "pullback_buying_strength", pullback, cfg.PullbackBuyingStrength.Score)

	// 历史形态匹配
	curve := cum
	if start >= 0 && n-start >= 2 {
		curve = cum[start:]
	}
	match, matched := bestMatch(curve, cfg.Patterns, cfg.SimilarityMethod)
	if matched {
		b.Indicator("pattern_match", match.Similarity)
		patternScore := 0.0
		if match.Similarity >= cfg.SimilarityThreshold {
			patternScore = match.Similarity * match.Pattern.SuccessRate / cfg.SuccessRateFull * scoring.MaxScore
		}
		b.Score("pattern_match", scoring.Of(patternScore))
		b.Indicator("matched_pattern", match.Pattern.Name)
		b.Indicator("pattern_success_rate", match.Pattern.SuccessRate)
	} else {
		b.Indicator("pattern_match", nil).Score("pattern_match", scoring.Unavailable())
	}

	b.Detail("window_days", n)
	b.Detail("building", map[string]any{
		"start_date": dateAt(window, start),
		"stage":      stage,
		"cum_flow":   cum[n-1],
	})
	b.Detail("pattern_library_size", len(cfg.Patterns))

	return finish(m.Name(), b, cfg.IndicatorWeights, func(score float64) string {
		desc := fmt.Sprintf("主力行为%s(%.1f分)：主力类型%s", scoreLevel(score), score, mainForceNames[forceType])
		if scoring.Finite(duration) {
			desc += fmt.Sprintf("，已建仓%d天", int(duration))
		}
		if matched && match.Similarity >= cfg.SimilarityThreshold {
			desc += fmt.Sprintf("，形态接近「%s」", match.Pattern.Name)
		}
		return desc
	})
}

func classifyMainForce(cfg MainForceConfig, signature, instRatio, nbChange float64) string {
	switch {
	case scoring.Finite(signature) && signature >= cfg.HotMoneySignature.MinFull:
		return MainForceHotMoney
	case scoring.Finite(instRatio) && instRatio >= cfg.InstitutionTypeMin:
		return MainForceInstitution
	case scoring.Finite(nbChange) && nbChange >= cfg.NorthboundTypeMin:
		return MainForceNorthbound
	default:
		return MainForceMixed
	}
}

func dateAt(s model.StockSeries, i int) string {
	if i < 0 || i >= s.Len() {
		return ""
	}
	return s[i].Date
}
