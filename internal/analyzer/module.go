// Package analyzer 实现埋伏（资金潜伏吸筹）分析：五个独立评分模块和加权编排器。
// 模块与编排器只做计算，不做 I/O，不读时钟，相同输入逐位复现相同结果。
package analyzer

import (
	"fmt"
	"math"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
)

// 模块名称
const (
	ModuleFundFlow          = "fund_flow"
	ModuleShareStructure    = "share_structure"
	ModuleTechnicalPattern  = "technical_pattern"
	ModuleMainForce         = "main_force"
	ModuleMarketEnvironment = "market_environment"
)

// ModuleNames 默认模块顺序
func ModuleNames() []string {
	return []string{
		ModuleFundFlow,
		ModuleShareStructure,
		ModuleTechnicalPattern,
		ModuleMainForce,
		ModuleMarketEnvironment,
	}
}

// Module 分析模块的统一契约。实现不得在调用之间保存状态，也不得修改入参。
type Module interface {
	Name() string
	Weight() float64
	Description() string
	DefaultConfig() any
	Analyze(series model.StockSeries, meta model.StockMeta, mc model.MarketContext) (*model.AnalysisResult, error)
}

// NewModule 按名称构造模块，override 为合并到默认配置上的部分覆盖
func NewModule(name string, override map[string]any) (Module, error) {
	switch name {
	case ModuleFundFlow:
		cfg, err := mergeConfig(name, DefaultFundFlowConfig(), override)
		if err != nil {
			return nil, err
		}
		return NewFundFlowModule(cfg)
	case ModuleShareStructure:
		cfg, err := mergeConfig(name, DefaultShareStructureConfig(), override)
		if err != nil {
			return nil, err
		}
		return NewShareStructureModule(cfg)
	case ModuleTechnicalPattern:
		cfg, err := mergeConfig(name, DefaultTechnicalPatternConfig(), override)
		if err != nil {
			return nil, err
		}
		return NewTechnicalPatternModule(cfg)
	case ModuleMainForce:
		cfg, err := mergeConfig(name, DefaultMainForceConfig(), override)
		if err != nil {
			return nil, err
		}
		return NewMainForceModule(cfg)
	case ModuleMarketEnvironment:
		cfg, err := mergeConfig(name, DefaultMarketEnvironmentConfig(), override)
		if err != nil {
			return nil, err
		}
		return NewMarketEnvironmentModule(cfg)
	}
	return nil, invalidConfig("", "未知模块 %q", name)
}

// DefaultModules 五个模块的默认配置实例
func DefaultModules() []Module {
	out := make([]Module, 0, 5)
	for _, name := range ModuleNames() {
		m, err := NewModule(name, nil)
		if err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

// validateSeries 模块通用输入校验，返回回看窗口内的序列
func validateSeries(module string, series model.StockSeries, required []string, lookback, minRecords int) (model.StockSeries, error) {
	if series.Len() == 0 {
		return nil, insufficient(module, "时间序列为空")
	}
	if err := validateDates(module, series); err != nil {
		return nil, err
	}
	window := series.Tail(lookback)
	if window.Len() < minRecords {
		return nil, insufficient(module, "记录数 %d 少于最低要求 %d", window.Len(), minRecords)
	}
	if missing := window.MissingFields(required); len(missing) > 0 {
		return nil, insufficient(module, "缺少必需字段 %v", missing)
	}
	return window, nil
}

func validateDates(module string, series model.StockSeries) error {
	for i, r := range series {
		if r.Date == "" {
			return insufficient(module, "第 %d 条记录缺少日期", i+1)
		}
		if i > 0 && r.Date <= series[i-1].Date {
			return insufficient(module, "日期必须严格递增: %s 之后为 %s", series[i-1].Date, r.Date)
		}
	}
	return nil
}

func requiredFields(extra ...string) []string {
	out := append([]string{model.FieldDate}, model.BaselineFields...)
	return append(out, extra...)
}

// recordValue 记录数值指标及其子得分，非有限值记为不可用
func recordValue(b *model.ResultBuilder, name string, value float64, score func(float64) float64) {
	if !scoring.Finite(value) {
		b.Indicator(name, nil).Score(name, scoring.Unavailable())
		return
	}
	b.Indicator(name, value).Score(name, scoring.Of(score(value)))
}

// recordRaw 只记录原始值（不参与评分）
func recordRaw(b *model.ResultBuilder, name string, value float64) {
	if !scoring.Finite(value) {
		b.Indicator(name, nil)
		return
	}
	b.Indicator(name, value)
}

// recordLabel 记录分类指标，空标签视为不可用
func recordLabel(b *model.ResultBuilder, name, label string, scores map[string]float64) {
	if label == "" {
		b.Indicator(name, nil).Score(name, scoring.Unavailable())
		return
	}
	s, ok := scores[label]
	if !ok {
		b.Indicator(name, label).Score(name, scoring.Unavailable())
		return
	}
	b.Indicator(name, label).Score(name, scoring.Of(s))
}

// finish 按指标权重聚合并冻结结果。
// 必需字段齐全但可选证据全部缺失时不报错：得分取加权和（此时为 0），detail_info 标记 no_evidence。
func finish(module string, b *model.ResultBuilder, weights IndicatorWeights, describe func(score float64) string) (*model.AnalysisResult, error) {
	scores := b.Scores()
	byKey := weights.ByScoreKey()
	weighted := map[string]scoring.Score{}
	for k, s := range scores {
		if w, ok := byKey[k]; ok && w > 0 {
			weighted[k] = s
		}
	}
	available := scoring.AvailableCount(weighted)
	score := scoring.WeightedSum(scores, byKey)
	b.Detail("available_indicators", available)
	b.Detail("weighted_indicators", len(weighted))
	if available == 0 {
		b.Detail("no_evidence", true)
		return b.Build(score, fmt.Sprintf("%s：缺少可用证据，按 %.1f 分计", module, score)), nil
	}
	return b.Build(score, describe(score)), nil
}

// chartSeries 图表序列，缺失值输出 null
func chartSeries(data []float64) []any {
	out := make([]any, len(data))
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

var nan = math.NaN()

// optional 可选市场字段，缺省为 NaN
func optional(p *float64) float64 {
	if v, ok := model.Float(p); ok {
		return v
	}
	return math.NaN()
}

func ratio(num, den float64) float64 {
	if den == 0 || !scoring.Finite(num) || !scoring.Finite(den) {
		return math.NaN()
	}
	return num / den
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func scoreLevel(score float64) string {
	switch {
	case score >= 75:
		return "强"
	case score >= 60:
		return "较强"
	case score >= 45:
		return "一般"
	default:
		return "弱"
	}
}
