package analyzer

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
)

// Threshold 阈值评分参数
type Threshold struct {
	MinOK   float64 `json:"min_ok"`
	MinFull float64 `json:"min_full"`
	Invert  bool    `json:"invert"`
}

// Score 对原始值评分
func (t Threshold) Score(v float64) float64 {
	return scoring.ThresholdScore(v, t.MinOK, t.MinFull, t.Invert)
}

func (t Threshold) validate(module, name string) error {
	if !scoring.Finite(t.MinOK) || !scoring.Finite(t.MinFull) {
		return invalidConfig(module, "阈值 %s 必须为有限数值", name)
	}
	return nil
}

func validateRange(module, name string, r scoring.TargetRange) error {
	if !scoring.Finite(r.Low) || !scoring.Finite(r.High) || !scoring.Finite(r.Tolerance) {
		return invalidConfig(module, "区间 %s 必须为有限数值", name)
	}
	if r.Low > r.High {
		return invalidConfig(module, "区间 %s 下限大于上限", name)
	}
	if r.Tolerance < 0 {
		return invalidConfig(module, "区间 %s 容差不能为负", name)
	}
	return nil
}

// IndicatorWeights 指标权重，默认值之和为模块点数预算
type IndicatorWeights map[string]float64

// PointBudget 每个模块的指标权重预算
const PointBudget = 100.0

// Total 权重和（按键排序累加）
func (w IndicatorWeights) Total() float64 {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += w[k]
	}
	return total
}

// ByScoreKey 转为以 <指标>_score 为键的权重表，供 WeightedSum 使用
func (w IndicatorWeights) ByScoreKey() map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[model.ScoreKey(k)] = v
	}
	return out
}

func (w IndicatorWeights) validate(module string) error {
	if len(w) == 0 {
		return invalidConfig(module, "indicator_weights 不能为空")
	}
	for k, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return invalidConfig(module, "指标 %s 权重非法: %v", k, v)
		}
	}
	if w.Total() <= 0 {
		return invalidConfig(module, "指标权重和必须大于0")
	}
	return nil
}

func validateWindow(module string, lookback, minRecords int) error {
	if lookback < 1 {
		return invalidConfig(module, "lookback_days 必须 >= 1")
	}
	if minRecords < 1 {
		return invalidConfig(module, "min_records 必须 >= 1")
	}
	if minRecords > lookback {
		return invalidConfig(module, "min_records 不能大于 lookback_days")
	}
	return nil
}

func validateModuleWeight(module string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return invalidConfig(module, "模块权重非法: %v", w)
	}
	return nil
}

// mergeConfig 把部分覆盖合并到默认配置上。覆盖中出现默认配置没有的键即报错，
// 嵌套对象逐键合并，数组与标量整体替换。
func mergeConfig[T any](module string, def T, override map[string]any) (T, error) {
	if len(override) == 0 {
		return def, nil
	}
	base, err := toMap(def)
	if err != nil {
		return def, invalidConfig(module, "默认配置无法序列化: %v", err)
	}
	if err := mergeInto(module, "", base, override); err != nil {
		return def, err
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return def, invalidConfig(module, "配置无法序列化: %v", err)
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return def, invalidConfig(module, "配置类型错误: %v", err)
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeInto(module, path string, dst, src map[string]any) error {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		full := k
		if path != "" {
			full = path + "." + k
		}
		cur, ok := dst[k]
		if !ok {
			return invalidConfig(module, "未知配置项 %s", full)
		}
		curMap, curIsMap := cur.(map[string]any)
		srcMap, srcIsMap := src[k].(map[string]any)
		switch {
		case curIsMap && srcIsMap:
			if err := mergeInto(module, full, curMap, srcMap); err != nil {
				return err
			}
		case curIsMap != srcIsMap && cur != nil:
			return invalidConfig(module, "配置项 %s 类型不匹配", full)
		default:
			dst[k] = src[k]
		}
	}
	return nil
}
