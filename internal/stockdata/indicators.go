package stockdata

import (
	"math"
	"sort"
)

// 本文件是各分析模块共用的数值工具。入参中的 NaN 表示当日缺失，
// 聚合类函数会跳过 NaN；序列类函数在数据不足的位置输出 NaN。

// Clean 去掉 NaN/Inf
func Clean(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Sum 求和（跳过缺失）
func Sum(data []float64) float64 {
	s := 0.0
	for _, v := range Clean(data) {
		s += v
	}
	return s
}

// Mean 均值，无有效值返回 NaN
func Mean(data []float64) float64 {
	c := Clean(data)
	if len(c) == 0 {
		return math.NaN()
	}
	return Sum(c) / float64(len(c))
}

// StdDev 总体标准差，有效值少于 2 个返回 NaN
func StdDev(data []float64) float64 {
	c := Clean(data)
	if len(c) < 2 {
		return math.NaN()
	}
	mean := Mean(c)
	sum := 0.0
	for _, v := range c {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(c)))
}

// MA 计算最后 period 个值的移动平均
func MA(data []float64, period int) float64 {
	if period <= 0 || len(data) < period {
		return math.NaN()
	}
	return Mean(data[len(data)-period:])
}

// MAAt 以 end（含）为末尾的 period 日均值
func MAAt(data []float64, period, end int) float64 {
	if period <= 0 || end < period-1 || end >= len(data) {
		return math.NaN()
	}
	return Mean(data[end-period+1 : end+1])
}

// EMA 计算指数移动平均，首值使用 SMA，之前的位置为 NaN
func EMA(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(data) < period {
		return out
	}

	multiplier := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		out[i] = (data[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// MACD 计算 DIF/DEA/柱状图序列，与 closes 对齐
func MACD(closes []float64, fast, slow, signal int) (dif, dea, hist []float64) {
	n := len(closes)
	dif = make([]float64, n)
	dea = make([]float64, n)
	hist = make([]float64, n)
	for i := 0; i < n; i++ {
		dif[i], dea[i], hist[i] = math.NaN(), math.NaN(), math.NaN()
	}
	if n < slow+signal-1 {
		return dif, dea, hist
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	validStart := slow - 1
	for i := validStart; i < n; i++ {
		dif[i] = emaFast[i] - emaSlow[i]
	}

	deaValid := EMA(dif[validStart:], signal)
	for j, v := range deaValid {
		dea[validStart+j] = v
		if !math.IsNaN(v) {
			hist[validStart+j] = 2 * (dif[validStart+j] - v)
		}
	}
	return dif, dea, hist
}

// Bollinger 以 end 为末尾计算布林带
func Bollinger(closes []float64, period, end int, k float64) (upper, middle, lower float64) {
	if period <= 0 || end < period-1 || end >= len(closes) {
		return math.NaN(), math.NaN(), math.NaN()
	}
	window := closes[end-period+1 : end+1]
	middle = Mean(window)
	std := StdDev(window)
	upper = middle + k*std
	lower = middle - k*std
	return upper, middle, lower
}

// BollingerWidth 布林带宽度序列 (upper-lower)/middle
func BollingerWidth(closes []float64, period int, k float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		u, m, l := Bollinger(closes, period, i, k)
		if math.IsNaN(m) || m == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (u - l) / m
	}
	return out
}

// Slope 线性回归斜率，按均值标准化为相对变化率（每个周期）
func Slope(data []float64) float64 {
	var xs, ys []float64
	for i, y := range data {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, y)
	}
	n := len(ys)
	if n < 2 {
		return math.NaN()
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i := range ys {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumX2 += xs[i] * xs[i]
	}

	avgY := sumY / float64(n)
	numerator := float64(n)*sumXY - sumX*sumY
	denominator := float64(n)*sumX2 - sumX*sumX
	if denominator == 0 || avgY == 0 {
		return math.NaN()
	}
	return numerator / denominator / math.Abs(avgY)
}

// Pearson 皮尔逊相关系数，只使用两侧都有效的样本；少于 3 对或任一侧为常数时 ok=false
func Pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	var xs, ys []float64
	for i := 0; i < n; i++ {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) || math.IsInf(x[i], 0) || math.IsInf(y[i], 0) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 3 {
		return 0, false
	}
	mx, my := Mean(xs), Mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	r := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r)), true
}

// PctChanges 日涨跌幅（%），首日为 NaN
func PctChanges(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i == 0 || closes[i-1] == 0 || math.IsNaN(closes[i-1]) || math.IsNaN(closes[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (closes[i] - closes[i-1]) / closes[i-1] * 100
	}
	return out
}

// Gini 基尼系数，衡量分布集中程度（0 均匀，趋近 1 高度集中）
func Gini(values []float64) float64 {
	c := Clean(values)
	if len(c) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), c...)
	sort.Float64s(sorted)
	var cum, total float64
	n := float64(len(sorted))
	for i, v := range sorted {
		if v < 0 {
			v = 0
		}
		cum += float64(i+1) * v
		total += v
	}
	if total == 0 {
		return 0
	}
	return (2*cum)/(n*total) - (n+1)/n
}

// CosineSimilarity 余弦相似度
func CosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / math.Sqrt(na*nb), true
}

// EuclideanSimilarity 欧氏距离相似度 1/(1+d/sqrt(n))，落在 (0,1]
func EuclideanSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum)/math.Sqrt(float64(len(a)))), true
}

// Resample 线性插值重采样到 n 个点
func Resample(data []float64, n int) []float64 {
	if n <= 0 || len(data) == 0 {
		return nil
	}
	out := make([]float64, n)
	if len(data) == 1 || n == 1 {
		for i := range out {
			out[i] = data[len(data)-1]
		}
		return out
	}
	step := float64(len(data)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		pos := float64(i) * step
		lo := int(math.Floor(pos))
		if lo >= len(data)-1 {
			out[i] = data[len(data)-1]
			continue
		}
		frac := pos - float64(lo)
		out[i] = data[lo] + (data[lo+1]-data[lo])*frac
	}
	return out
}

// MinMaxNormalize 归一化到 [0,1]，常数序列返回 nil
func MinMaxNormalize(data []float64) []float64 {
	lo, hi := MinSlice(data), MaxSlice(data)
	if hi == lo {
		return nil
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// Cumulative 累计和，缺失按 0 计
func Cumulative(data []float64) []float64 {
	out := make([]float64, len(data))
	acc := 0.0
	for i, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			acc += v
		}
		out[i] = acc
	}
	return out
}

// ShadowRatios 单根K线的上下影线占振幅比例
func ShadowRatios(open, high, low, close float64) (upper, lower float64) {
	bodyHigh := math.Max(open, close)
	bodyLow := math.Min(open, close)
	totalRange := high - low
	if totalRange <= 0 {
		return 0, 0
	}
	upper = (high - bodyHigh) / totalRange
	lower = (bodyLow - low) / totalRange
	return upper, lower
}

// MinSlice 求最小值（跳过缺失）
func MinSlice(data []float64) float64 {
	c := Clean(data)
	if len(c) == 0 {
		return math.NaN()
	}
	min := c[0]
	for _, v := range c {
		if v < min {
			min = v
		}
	}
	return min
}

// MaxSlice 求最大值（跳过缺失）
func MaxSlice(data []float64) float64 {
	c := Clean(data)
	if len(c) == 0 {
		return math.NaN()
	}
	max := c[0]
	for _, v := range c {
		if v > max {
			max = v
		}
	}
	return max
}

// FirstLast 第一个与最后一个有效值，用于稀疏字段（如股东户数）
func FirstLast(data []float64) (first, last float64, ok bool) {
	fi, li := -1, -1
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if fi < 0 {
			fi = i
		}
		li = i
	}
	if fi < 0 || fi == li {
		return math.NaN(), math.NaN(), false
	}
	return data[fi], data[li], true
}
