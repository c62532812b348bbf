package analyzer

import (
	"sort"

	sd "fund-burying-backend/internal/stockdata"
)

// PatternPoints 模板曲线的统一长度
const PatternPoints = 20

// 相似度算法
const (
	SimilarityCosine    = "cosine"
	SimilarityEuclidean = "euclidean"
)

// AccumulationPattern 历史吸筹模板：归一化的累计资金曲线及其历史成功率
type AccumulationPattern struct {
	Name        string    `json:"name"`
	Curve       []float64 `json:"curve"`
	SuccessRate float64   `json:"success_rate"`
}

// PatternMatch 最佳匹配结果
type PatternMatch struct {
	Pattern    AccumulationPattern
	Similarity float64
}

// DefaultPatterns 内置模板库
func DefaultPatterns() []AccumulationPattern {
	steady := make([]float64, PatternPoints)
	platform := make([]float64, PatternPoints)
	suppress := make([]float64, PatternPoints)
	late := make([]float64, PatternPoints)
	last := float64(PatternPoints - 1)
	for i := 0; i < PatternPoints; i++ {
		x := float64(i) / last
		steady[i] = x
		// 台阶式抬升：每 5 个点一级
		platform[i] = float64(i/5) / float64((PatternPoints-1)/5)
		// 前 30% 打压到底，之后持续回升
		if x < 0.3 {
			suppress[i] = 0.3 - x
		} else {
			suppress[i] = (x - 0.3) / 0.7
		}
		late[i] = x * x
	}
	return []AccumulationPattern{
		{Name: "稳步推升吸筹", Curve: steady, SuccessRate: 0.62},
		{Name: "平台震荡吸筹", Curve: platform, SuccessRate: 0.58},
		{Name: "打压吸筹", Curve: suppress, SuccessRate: 0.55},
		{Name: "尾段加速吸筹", Curve: late, SuccessRate: 0.48},
	}
}

// normalizeCurve 重采样到 PatternPoints 点并归一化到 [0,1]；常数曲线返回 nil
func normalizeCurve(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	return sd.MinMaxNormalize(sd.Resample(curve, PatternPoints))
}

// bestMatch 在模板库中找相似度最高的模板；同分时按名称排序保证结果稳定
func bestMatch(curve []float64, patterns []AccumulationPattern, method string) (PatternMatch, bool) {
	target := normalizeCurve(curve)
	if target == nil {
		return PatternMatch{}, false
	}
	sorted := append([]AccumulationPattern(nil), patterns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var best PatternMatch
	found := false
	for _, p := range sorted {
		tpl := normalizeCurve(p.Curve)
		if tpl == nil {
			continue
		}
		var sim float64
		var ok bool
		if method == SimilarityEuclidean {
			sim, ok = sd.EuclideanSimilarity(target, tpl)
		} else {
			sim, ok = sd.CosineSimilarity(target, tpl)
		}
		if !ok {
			continue
		}
		if !found || sim > best.Similarity {
			best = PatternMatch{Pattern: p, Similarity: sim}
			found = true
		}
	}
	return best, found
}
