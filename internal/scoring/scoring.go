// Package scoring 把单个原始指标值映射为 0-100 的子得分，并按权重聚合。
// 所有函数均为纯函数，不读时钟、不产生随机数，相同输入得到逐位相同的结果。
package scoring

import (
	"encoding/json"
	"math"
	"sort"
)

const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Score 带可用标记的子得分；不可用的得分在聚合时同时排除出分子和分母
type Score struct {
	Value     float64
	Available bool
}

// Of 构造一个可用得分，非有限值（NaN/Inf）自动转为不可用
func Of(v float64) Score {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Score{}
	}
	return Score{Value: Clamp(v), Available: true}
}

// Unavailable 指标不可用
func Unavailable() Score {
	return Score{}
}

// MarshalJSON 不可用时输出 null
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Available {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON null 视为不可用
func (s *Score) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Score{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Of(v)
	return nil
}

// Clamp 限制在 [0, 100]
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// Finite 判断是否为有限值
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ThresholdScore 阈值评分：value<=minOK 为 0，value>=minFull 为 100，中间线性插值。
// invert=true 时返回镜像曲线（100-score），用于越低越好的指标（如波动率）。
// minOK>=minFull 时退化为在 minFull 处的阶跃。
func ThresholdScore(value, minOK, minFull float64, invert bool) float64 {
	if !Finite(value) {
		return MinScore
	}
	var s float64
	switch {
	case value >= minFull:
		s = MaxScore
	case minOK >= minFull || value <= minOK:
		s = MinScore
	default:
		s = (value - minOK) / (minFull - minOK) * MaxScore
	}
	s = Clamp(s)
	if invert {
		return MaxScore - s
	}
	return s
}

// TargetRange 目标区间，Tolerance 为区间外线性衰减到 0 的距离，<=0 时取区间宽度
type TargetRange struct {
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Tolerance float64 `json:"tolerance"`
}

func (r TargetRange) tolerance() float64 {
	if r.Tolerance > 0 {
		return r.Tolerance
	}
	if w := r.High - r.Low; w > 0 {
		return w
	}
	return 1
}

// RatioScore 区间评分：落在目标区间内为 100，越出区间按距离线性衰减
func RatioScore(value float64, target TargetRange) float64 {
	if !Finite(value) {
		return MinScore
	}
	low, high := target.Low, target.High
	if low > high {
		low, high = high, low
	}
	var dist float64
	switch {
	case value < low:
		dist = low - value
	case value > high:
		dist = value - high
	default:
		return MaxScore
	}
	return Clamp(MaxScore * (1 - dist/target.tolerance()))
}

// WeightedSum 加权平均 Σ(score·weight)/Σweight。
// 不可用得分、缺少权重或权重<=0 的项同时排除出分子分母；全部排除或权重和为 0 时返回 0。
// 键按字典序遍历，保证浮点累加顺序固定。
func WeightedSum(scores map[string]Score, weights map[string]float64) float64 {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var num, den float64
	for _, k := range keys {
		s := scores[k]
		if !s.Available {
			continue
		}
		w, ok := weights[k]
		if !ok || !Finite(w) || w <= 0 {
			continue
		}
		num += Clamp(s.Value) * w
		den += w
	}
	if den == 0 {
		return MinScore
	}
	return Clamp(num / den)
}

// AvailableCount 可用得分个数
func AvailableCount(scores map[string]Score) int {
	n := 0
	for _, s := range scores {
		if s.Available {
			n++
		}
	}
	return n
}
