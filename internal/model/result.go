package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"fund-burying-backend/internal/scoring"
)

// OrderedMap 保持插入顺序的只读映射；JSON 输出按插入顺序
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

func (m *OrderedMap[V]) set(key string, v V) {
	if m.values == nil {
		m.values = map[string]V{}
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get 取值
func (m OrderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys 插入顺序的键
func (m OrderedMap[V]) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len 元素个数
func (m OrderedMap[V]) Len() int { return len(m.keys) }

// Map 导出为普通 map 的副本
func (m OrderedMap[V]) Map() map[string]V {
	out := make(map[string]V, len(m.keys))
	for _, k := range m.keys {
		out[k] = m.values[k]
	}
	return out
}

func (m OrderedMap[V]) clone() OrderedMap[V] {
	out := OrderedMap[V]{keys: append([]string(nil), m.keys...), values: make(map[string]V, len(m.keys))}
	for _, k := range m.keys {
		out.values[k] = m.values[k]
	}
	return out
}

// MarshalJSON 按插入顺序输出 JSON 对象
func (m OrderedMap[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("序列化 %s 失败: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按 JSON 中出现的顺序恢复键序
func (m *OrderedMap[V]) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("期望JSON对象")
	}
	out := OrderedMap[V]{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var v V
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out.set(key, v)
	}
	*m = out
	return nil
}

// Indicators 指标原始值：数值、分类字符串，或 nil（不可用）
type Indicators = OrderedMap[any]

// IndicatorScores 指标子得分：键为 <指标名>_score
type IndicatorScores = OrderedMap[scoring.Score]

// ScoreSuffix 子得分键后缀
const ScoreSuffix = "_score"

// ScoreKey 指标名对应的子得分键
func ScoreKey(indicator string) string {
	return indicator + ScoreSuffix
}

// IndicatorName 子得分键还原为指标名
func IndicatorName(scoreKey string) string {
	return strings.TrimSuffix(scoreKey, ScoreSuffix)
}

// AnalysisResult 单个模块（或编排器）的分析结果，构造后不可变
type AnalysisResult struct {
	Score           float64         `json:"score"`
	Indicators      Indicators      `json:"indicators"`
	IndicatorScores IndicatorScores `json:"indicator_scores"`
	Description     string          `json:"description"`
	DetailInfo      map[string]any  `json:"detail_info"`
	ChartsData      map[string]any  `json:"charts_data,omitempty"`
}

// Indicator 取指标原始值
func (r *AnalysisResult) Indicator(name string) (any, bool) {
	return r.Indicators.Get(name)
}

// IndicatorScore 取指标子得分（按指标名，不带后缀）
func (r *AnalysisResult) IndicatorScore(name string) (scoring.Score, bool) {
	return r.IndicatorScores.Get(ScoreKey(name))
}

// ResultBuilder 在一次 Analyze 调用中逐步构造结果，Build 后冻结
type ResultBuilder struct {
	indicators Indicators
	scores     IndicatorScores
	detail     map[string]any
	charts     map[string]any
	built      bool
}

// NewResultBuilder 新建构造器
func NewResultBuilder() *ResultBuilder {
	return &ResultBuilder{detail: map[string]any{}}
}

// Indicator 记录指标原始值，nil 表示不可用
func (b *ResultBuilder) Indicator(name string, v any) *ResultBuilder {
	b.mustOpen()
	b.indicators.set(name, v)
	return b
}

// Score 记录指标子得分
func (b *ResultBuilder) Score(name string, s scoring.Score) *ResultBuilder {
	b.mustOpen()
	b.scores.set(ScoreKey(name), s)
	return b
}

// Detail 记录诊断信息
func (b *ResultBuilder) Detail(key string, v any) *ResultBuilder {
	b.mustOpen()
	b.detail[key] = v
	return b
}

// Chart 记录图表序列
func (b *ResultBuilder) Chart(key string, v any) *ResultBuilder {
	b.mustOpen()
	if b.charts == nil {
		b.charts = map[string]any{}
	}
	b.charts[key] = v
	return b
}

// Scores 当前子得分（按子得分键），用于加权聚合
func (b *ResultBuilder) Scores() map[string]scoring.Score {
	return b.scores.Map()
}

// Build 冻结结果
func (b *ResultBuilder) Build(score float64, description string) *AnalysisResult {
	b.mustOpen()
	b.built = true
	res := &AnalysisResult{
		Score:           scoring.Clamp(score),
		Indicators:      b.indicators.clone(),
		IndicatorScores: b.scores.clone(),
		Description:     description,
		DetailInfo:      make(map[string]any, len(b.detail)),
	}
	for k, v := range b.detail {
		res.DetailInfo[k] = v
	}
	if b.charts != nil {
		res.ChartsData = make(map[string]any, len(b.charts))
		for k, v := range b.charts {
			res.ChartsData[k] = v
		}
	}
	return res
}

func (b *ResultBuilder) mustOpen() {
	if b.built {
		panic("model: ResultBuilder used after Build")
	}
}

// ModuleOutcome 编排器中单个模块的执行结果
type ModuleOutcome struct {
	Name             string          `json:"name"`
	Weight           float64         `json:"weight"`
	NormalizedWeight float64         `json:"normalized_weight"`
	Succeeded        bool            `json:"succeeded"`
	Error            string          `json:"error,omitempty"`
	Result           *AnalysisResult `json:"result,omitempty"`
}

// CompositeResult 编排器的综合结果
type CompositeResult struct {
	AnalysisResult
	StockCode string            `json:"stock_code"`
	StockName string            `json:"stock_name"`
	TradeDate string            `json:"trade_date"`
	Modules   []ModuleOutcome   `json:"modules"`
	Failures  map[string]string `json:"failures"`
}

// ModuleScores 成功模块的得分
func (c *CompositeResult) ModuleScores() map[string]float64 {
	out := map[string]float64{}
	for _, m := range c.Modules {
		if m.Succeeded && m.Result != nil {
			out[m.Name] = m.Result.Score
		}
	}
	return out
}

// Module 按名称取模块结果
func (c *CompositeResult) Module(name string) (ModuleOutcome, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleOutcome{}, false
}
