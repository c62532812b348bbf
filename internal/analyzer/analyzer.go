package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/scoring"
)

// AnalyzeOptions 单次分析的模块选择；Only 非空时忽略 Disabled
type AnalyzeOptions struct {
	Disabled []string
	Only     []string
}

// Settings 构造编排器的声明式配置（来自配置文件或请求）
type Settings struct {
	Weights  map[string]float64        `json:"weights,omitempty"`
	Modules  map[string]map[string]any `json:"modules,omitempty"`
	Parallel bool                      `json:"parallel,omitempty"`
}

// FundBuryingAnalyzer 埋伏分析编排器。Analyze 可并发调用；AdjustWeights 与 Analyze 之间需调用方自行同步。
type FundBuryingAnalyzer struct {
	modules  []Module
	weights  map[string]float64
	parallel bool
}

// Option 构造选项
type Option func(*FundBuryingAnalyzer)

// WithParallel 模块并行计算，结果与顺序计算一致
func WithParallel(parallel bool) Option {
	return func(a *FundBuryingAnalyzer) { a.parallel = parallel }
}

// NewFundBuryingAnalyzer 用给定模块和权重覆盖构造编排器；weights 中未出现的模块使用其自身权重
func NewFundBuryingAnalyzer(modules []Module, weights map[string]float64, opts ...Option) (*FundBuryingAnalyzer, error) {
	if len(modules) == 0 {
		return nil, invalidConfig("", "至少需要一个分析模块")
	}
	a := &FundBuryingAnalyzer{weights: map[string]float64{}}
	seen := map[string]bool{}
	for _, m := range modules {
		if m == nil {
			return nil, invalidConfig("", "模块不能为空")
		}
		name := m.Name()
		if seen[name] {
			return nil, invalidConfig("", "模块 %s 重复", name)
		}
		seen[name] = true
		a.modules = append(a.modules, m)
		a.weights[name] = m.Weight()
	}
	if err := a.applyWeights(weights); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewDefaultAnalyzer 五个默认模块
func NewDefaultAnalyzer(opts ...Option) (*FundBuryingAnalyzer, error) {
	return NewFundBuryingAnalyzer(DefaultModules(), nil, opts...)
}

// NewFromSettings 按声明式配置构造：模块配置覆盖 + 权重覆盖
func NewFromSettings(s Settings, opts ...Option) (*FundBuryingAnalyzer, error) {
	names := ModuleNames()
	known := map[string]bool{}
	for _, n := range names {
		known[n] = true
	}
	for name := range s.Modules {
		if !known[name] {
			return nil, invalidConfig("", "未知模块 %q", name)
		}
	}
	modules := make([]Module, 0, len(names))
	for _, name := range names {
		m, err := NewModule(name, s.Modules[name])
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return NewFundBuryingAnalyzer(modules, s.Weights, append([]Option{WithParallel(s.Parallel)}, opts...)...)
}

// AdjustWeights 运行时覆盖模块权重；校验失败时不做任何修改
func (a *FundBuryingAnalyzer) AdjustWeights(overrides map[string]float64) error {
	return a.applyWeights(overrides)
}

func (a *FundBuryingAnalyzer) applyWeights(overrides map[string]float64) error {
	next := make(map[string]float64, len(a.weights))
	for k, v := range a.weights {
		next[k] = v
	}
	for name, w := range overrides {
		if _, ok := next[name]; !ok {
			return invalidConfig("", "未知模块 %q", name)
		}
		if err := validateModuleWeight(name, w); err != nil {
			return err
		}
		next[name] = w
	}
	total := 0.0
	for _, m := range a.modules {
		total += next[m.Name()]
	}
	if total <= 0 {
		return invalidConfig("", "模块权重和必须大于0")
	}
	a.weights = next
	return nil
}

// Weights 当前模块权重（未归一化）
func (a *FundBuryingAnalyzer) Weights() map[string]float64 {
	out := make(map[string]float64, len(a.weights))
	for k, v := range a.weights {
		out[k] = v
	}
	return out
}

// Modules 按配置顺序的模块
func (a *FundBuryingAnalyzer) Modules() []Module {
	return append([]Module(nil), a.modules...)
}

// activeModules 选择参与本次分析的模块，Only 优先于 Disabled
func (a *FundBuryingAnalyzer) activeModules(opts AnalyzeOptions) ([]Module, error) {
	index := map[string]Module{}
	for _, m := range a.modules {
		index[m.Name()] = m
	}
	for _, name := range append(append([]string(nil), opts.Only...), opts.Disabled...) {
		if _, ok := index[name]; !ok {
			return nil, invalidConfig("", "未知模块 %q", name)
		}
	}

	var active []Module
	if len(opts.Only) > 0 {
		only := toSet(opts.Only)
		for _, m := range a.modules {
			if only[m.Name()] {
				active = append(active, m)
			}
		}
	} else {
		disabled := toSet(opts.Disabled)
		for _, m := range a.modules {
			if !disabled[m.Name()] {
				active = append(active, m)
			}
		}
	}
	if len(active) == 0 {
		return nil, invalidConfig("", "没有启用任何分析模块")
	}
	total := 0.0
	for _, m := range active {
		total += a.weights[m.Name()]
	}
	if total <= 0 {
		return nil, invalidConfig("", "启用模块的权重和必须大于0")
	}
	return active, nil
}

type moduleRun struct {
	result *model.AnalysisResult
	err    error
}

// Analyze 校验基础数据后依次（或并行）调用各模块并加权汇总。
// 单个模块失败只会被排除并记录原因；全部模块失败时返回 InsufficientDataError。
func (a *FundBuryingAnalyzer) Analyze(series model.StockSeries, meta model.StockMeta, mc model.MarketContext, opts AnalyzeOptions) (*model.CompositeResult, error) {
	if err := validateBaseline(series); err != nil {
		return nil, err
	}
	active, err := a.activeModules(opts)
	if err != nil {
		return nil, err
	}

	runs := make([]moduleRun, len(active))
	if a.parallel && len(active) > 1 {
		var wg sync.WaitGroup
		for i, m := range active {
			wg.Add(1)
			go func(i int, m Module) {
				defer wg.Done()
				runs[i] = runModule(m, series, meta, mc)
			}(i, m)
		}
		wg.Wait()
	} else {
		for i, m := range active {
			runs[i] = runModule(m, series, meta, mc)
		}
	}

	return a.aggregate(active, runs, series, meta)
}

func runModule(m Module, series model.StockSeries, meta model.StockMeta, mc model.MarketContext) (run moduleRun) {
	defer func() {
		if r := recover(); r != nil {
			run = moduleRun{err: fmt.Errorf("%s 模块计算异常: %v", m.Name(), r)}
		}
	}()
	res, err := m.Analyze(series, meta, mc)
	if err == nil && res == nil {
		err = fmt.Errorf("%s 模块未返回结果", m.Name())
	}
	return moduleRun{result: res, err: err}
}

func (a *FundBuryingAnalyzer) aggregate(active []Module, runs []moduleRun, series model.StockSeries, meta model.StockMeta) (*model.CompositeResult, error) {
	failures := map[string]string{}
	scores := map[string]scoring.Score{}
	weights := map[string]float64{}
	successWeight := 0.0
	for i, m := range active {
		name := m.Name()
		if runs[i].err != nil {
			failures[name] = runs[i].err.Error()
			continue
		}
		scores[name] = scoring.Of(runs[i].result.Score)
		weights[name] = a.weights[name]
		successWeight += a.weights[name]
	}

	if len(scores) == 0 {
		return nil, insufficient("", "所有模块均无法计算: %s", joinFailures(failures))
	}
	if successWeight <= 0 {
		// 成功模块权重均为0时按等权处理
		for name := range weights {
			weights[name] = 1
		}
		successWeight = float64(len(weights))
	}

	b := model.NewResultBuilder()
	outcomes := make([]model.ModuleOutcome, 0, len(active))
	moduleScores := map[string]float64{}
	normalized := map[string]float64{}
	for i, m := range active {
		name := m.Name()
		out := model.ModuleOutcome{Name: name, Weight: a.weights[name]}
		if runs[i].err != nil {
			out.Error = runs[i].err.Error()
			outcomes = append(outcomes, out)
			continue
		}
		res := runs[i].result
		out.Succeeded = true
		out.Result = res
		out.NormalizedWeight = weights[name] / successWeight
		outcomes = append(outcomes, out)
		moduleScores[name] = res.Score
		normalized[name] = out.NormalizedWeight

		for _, key := range res.Indicators.Keys() {
			v, _ := res.Indicators.Get(key)
			b.Indicator(name+"."+key, v)
		}
		for _, key := range res.IndicatorScores.Keys() {
			s, _ := res.IndicatorScores.Get(key)
			b.Score(name+"."+model.IndicatorName(key), s)
		}
		for key, v := range res.ChartsData {
			b.Chart(name+"."+key, v)
		}
	}

	score := scoring.WeightedSum(scores, weights)
	b.Detail("module_scores", moduleScores)
	b.Detail("normalized_weights", normalized)
	b.Detail("failures", failures)
	b.Detail("modules_succeeded", len(scores))
	b.Detail("modules_active", len(active))

	res := b.Build(score, compositeDescription(score, len(scores), len(active), failures))
	return &model.CompositeResult{
		AnalysisResult: *res,
		StockCode:      meta.Code,
		StockName:      meta.Name,
		TradeDate:      series.LastDate(),
		Modules:        outcomes,
		Failures:       failures,
	}, nil
}

// validateBaseline 编排器在运行任何模块之前的基础校验
func validateBaseline(series model.StockSeries) error {
	if series.Len() == 0 {
		return insufficient("", "时间序列为空")
	}
	if err := validateDates("", series); err != nil {
		return err
	}
	if missing := series.MissingFields(requiredFields()); len(missing) > 0 {
		return insufficient("", "缺少基础字段 %v", missing)
	}
	return nil
}

// Level 综合评分等级
func Level(score float64) string {
	switch {
	case score >= 75:
		return "强烈埋伏信号"
	case score >= 60:
		return "明显吸筹迹象"
	case score >= 45:
		return "疑似吸筹"
	default:
		return "未见明显吸筹"
	}
}

func compositeDescription(score float64, succeeded, active int, failures map[string]string) string {
	desc := fmt.Sprintf("综合埋伏评分%.1f（%s），有效模块%d/%d", score, Level(score), succeeded, active)
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		desc += "，未参与：" + strings.Join(names, ",")
	}
	return desc
}

func joinFailures(failures map[string]string) string {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+failures[name])
	}
	return strings.Join(parts, "; ")
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
