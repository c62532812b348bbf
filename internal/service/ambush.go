package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fund-burying-backend/internal/analyzer"
	"fund-burying-backend/internal/client"
	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/stockdata"
	"fund-burying-backend/internal/store"
	"fund-burying-backend/internal/trace"
)

// ResultCacheTTL 综合结果缓存时间（同一交易日、同一配置）
const ResultCacheTTL = 30 * time.Minute

var (
	// ErrInvalidRequest 请求参数错误
	ErrInvalidRequest = errors.New("请求参数错误")
	// ErrNoStore 未启用历史存储
	ErrNoStore = errors.New("未启用历史存储")
)

// Loader 行情与基本面数据来源
type Loader interface {
	LoadSeries(ctx context.Context, code string, days int) (model.StockSeries, error)
	LoadMeta(ctx context.Context, code string) (model.StockMeta, error)
}

// EastMoneyLoader 东方财富行情
type EastMoneyLoader struct{}

func (EastMoneyLoader) LoadSeries(ctx context.Context, code string, days int) (model.StockSeries, error) {
	return stockdata.LoadSeries(ctx, code, days)
}

func (EastMoneyLoader) LoadMeta(ctx context.Context, code string) (model.StockMeta, error) {
	return stockdata.LoadMeta(ctx, code)
}

// Options 构造 Service 的依赖，Store/Sidecar 可为空
type Options struct {
	Settings analyzer.Settings
	Disabled []string
	Store    *store.Store
	Sidecar  *client.Sidecar
	Loader   Loader
	Cache    stockdata.CacheProvider
}

// Service 埋伏分析服务
type Service struct {
	settings analyzer.Settings
	disabled []string
	store    *store.Store
	sidecar  *client.Sidecar
	loader   Loader
	cache    stockdata.CacheProvider
	tasks    *taskManager
}

// New 校验基础配置能构造出编排器
func New(opts Options) (*Service, error) {
	if _, err := analyzer.NewFromSettings(opts.Settings); err != nil {
		return nil, err
	}
	if opts.Loader == nil {
		opts.Loader = EastMoneyLoader{}
	}
	if opts.Cache == nil {
		opts.Cache = stockdata.Cache()
	}
	s := &Service{
		settings: opts.Settings,
		disabled: append([]string(nil), opts.Disabled...),
		store:    opts.Store,
		sidecar:  opts.Sidecar,
		loader:   opts.Loader,
		cache:    opts.Cache,
	}
	s.tasks = newTaskManager(s)
	return s, nil
}

// AnalyzeRequest 单只股票分析请求。Series 为空时从行情源加载 Meta/Context；
// 内联 Series 时不访问外部数据源，缺省的 Meta/Context 按证据不足处理
type AnalyzeRequest struct {
	Code        string                    `json:"code"`
	Days        int                       `json:"days,omitempty"`
	Series      model.StockSeries         `json:"series,omitempty"`
	Meta        *model.StockMeta          `json:"meta,omitempty"`
	Context     *model.MarketContext      `json:"context,omitempty"`
	Only        []string                  `json:"only,omitempty"`
	Disabled    []string                  `json:"disabled,omitempty"`
	Weights     map[string]float64        `json:"weights,omitempty"`
	Modules     map[string]map[string]any `json:"modules,omitempty"`
	NoSave      bool                      `json:"no_save,omitempty"`
	NoCache     bool                      `json:"no_cache,omitempty"`
	SimilarTopK int                       `json:"similar_top_k,omitempty"`
}

// AnalyzeResponse 分析结果及附加信息
type AnalyzeResponse struct {
	Result     *model.CompositeResult `json:"result"`
	Level      string                 `json:"level"`
	ConfigHash string                 `json:"config_hash"`
	RecordID   int64                  `json:"record_id,omitempty"`
	Cached     bool                   `json:"cached"`
	Similar    []store.Record         `json:"similar,omitempty"`
}

// AnalyzeStock 加载输入、按配置与请求覆盖构造编排器并分析，成功后写入历史
func (s *Service) AnalyzeStock(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" && req.Meta != nil {
		code = req.Meta.Code
	}
	inline := len(req.Series) > 0
	if code == "" {
		return nil, fmt.Errorf("%w: 股票代码不能为空", ErrInvalidRequest)
	}
	if !inline && !stockdata.ValidCode(code) {
		return nil, fmt.Errorf("%w: 股票代码格式错误 %s", ErrInvalidRequest, code)
	}

	settings, err := s.requestSettings(ctx, req)
	if err != nil {
		return nil, err
	}
	opts := analyzer.AnalyzeOptions{Only: req.Only, Disabled: union(s.disabled, req.Disabled)}
	hash := configHash(settings, opts)

	a, err := analyzer.NewFromSettings(settings)
	if err != nil {
		return nil, err
	}

	series := req.Series
	if !inline {
		if series, err = s.loadSeries(ctx, code, req.Days); err != nil {
			return nil, err
		}
	}

	cacheKey := fmt.Sprintf("ambush:result:%s:%s:%s", code, series.LastDate(), hash)
	useCache := !inline && !req.NoCache && req.Meta == nil && req.Context == nil && s.cache != nil
	if useCache {
		var cached AnalyzeResponse
		if err := s.cache.Get(cacheKey, &cached); err == nil && cached.Result != nil {
			trace.Info(ctx, "Ambush", "命中结果缓存 %s", cacheKey)
			cached.Cached = true
			cached.Similar = s.similar(ctx, cached.Result, code, req.SimilarTopK)
			return &cached, nil
		}
	}

	meta := s.meta(ctx, code, req.Meta, inline)
	mc := s.marketContext(ctx, code, req.Context, inline)

	start := time.Now()
	res, err := a.Analyze(series, meta, mc, opts)
	if err != nil {
		trace.Warn(ctx, "Ambush", "%s 分析失败: %v", code, err)
		return nil, err
	}
	trace.Info(ctx, "Ambush", "%s %s 综合得分 %.1f（%d/%d 模块成功，耗时 %v）",
		code, res.TradeDate, res.Score, len(res.ModuleScores()), len(res.Modules), time.Since(start).Round(time.Millisecond))

	resp := &AnalyzeResponse{Result: res, Level: analyzer.Level(res.Score), ConfigHash: hash}
	if s.store != nil && !req.NoSave {
		id, err := s.store.Save(ctx, res, hash)
		if err != nil {
			trace.Warn(ctx, "Ambush", "保存分析结果失败: %v", err)
		} else {
			resp.RecordID = id
		}
	}
	if useCache {
		if err := s.cache.Set(cacheKey, resp, ResultCacheTTL); err != nil {
			trace.Warn(ctx, "Ambush", "写入结果缓存失败: %v", err)
		}
	}
	resp.Similar = s.similar(ctx, res, code, req.SimilarTopK)
	return resp, nil
}

func (s *Service) loadSeries(ctx context.Context, code string, days int) (model.StockSeries, error) {
	series, err := s.loader.LoadSeries(ctx, code, days)
	if err != nil {
		return nil, fmt.Errorf("获取日线数据失败: %w", err)
	}
	if s.sidecar == nil {
		return series, nil
	}
	// 披露数据只覆盖已有交易日
	records, err := s.sidecar.Disclosures(ctx, code, max(days, len(series)))
	if err != nil {
		trace.Warn(ctx, "Ambush", "%s 获取披露数据失败，按缺失处理: %v", code, err)
		return series, nil
	}
	merged := append(model.StockSeries(nil), series...)
	for i := range merged {
		values := make(map[string]float64, len(merged[i].Values))
		for k, v := range merged[i].Values {
			values[k] = v
		}
		merged[i].Values = values
	}
	n := merged.Merge(records)
	trace.Info(ctx, "Ambush", "%s 合并披露数据 %d/%d 条", code, n, len(records))
	return merged, nil
}

// meta 内联日线的请求不访问外部数据源
func (s *Service) meta(ctx context.Context, code string, given *model.StockMeta, offline bool) model.StockMeta {
	if given != nil {
		m := *given
		if m.Code == "" {
			m.Code = code
		}
		return m
	}
	if offline {
		return model.StockMeta{Code: code, Market: stockdata.MarketOf(code)}
	}
	m, err := s.loader.LoadMeta(ctx, code)
	if err != nil {
		trace.Warn(ctx, "Ambush", "%s 获取基本信息失败，市值相关指标不可用: %v", code, err)
		return model.StockMeta{Code: code, Market: stockdata.MarketOf(code)}
	}
	return m
}

func (s *Service) marketContext(ctx context.Context, code string, given *model.MarketContext, offline bool) model.MarketContext {
	if given != nil {
		return *given
	}
	if offline || s.sidecar == nil {
		return model.MarketContext{}
	}
	mc, err := s.sidecar.MarketContext(ctx, code)
	if err != nil {
		trace.Warn(ctx, "Ambush", "获取市场快照失败，按证据不足处理: %v", err)
		return model.MarketContext{}
	}
	return mc
}

func (s *Service) similar(ctx context.Context, res *model.CompositeResult, code string, topK int) []store.Record {
	if s.store == nil || topK <= 0 {
		return nil
	}
	out, err := s.store.Similar(ctx, res.ModuleScores(), code, topK)
	if err != nil {
		trace.Warn(ctx, "Ambush", "查询相似历史失败: %v", err)
		return nil
	}
	return out
}

// requestSettings 基础配置 + 请求覆盖；主力模块未指定形态库时使用存储中的模板
func (s *Service) requestSettings(ctx context.Context, req AnalyzeRequest) (analyzer.Settings, error) {
	out := analyzer.Settings{
		Weights:  map[string]float64{},
		Modules:  map[string]map[string]any{},
		Parallel: s.settings.Parallel,
	}
	for k, v := range s.settings.Weights {
		out.Weights[k] = v
	}
	for k, v := range req.Weights {
		out.Weights[k] = v
	}
	for name, o := range s.settings.Modules {
		out.Modules[name] = mergeOverride(nil, o)
	}
	for name, o := range req.Modules {
		out.Modules[name] = mergeOverride(out.Modules[name], o)
	}

	if s.store != nil {
		mf := out.Modules[analyzer.ModuleMainForce]
		if _, ok := mf["patterns"]; !ok {
			patterns, err := s.store.Patterns(ctx)
			if err != nil {
				trace.Warn(ctx, "Ambush", "读取形态库失败，使用内置模板: %v", err)
			} else if len(patterns) > 0 {
				out.Modules[analyzer.ModuleMainForce] = mergeOverride(mf, map[string]any{"patterns": patterns})
			}
		}
	}
	return out, nil
}

// mergeOverride 递归合并，src 优先，不修改入参
func mergeOverride(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		sub, ok1 := v.(map[string]any)
		cur, ok2 := out[k].(map[string]any)
		if ok1 && ok2 {
			out[k] = mergeOverride(cur, sub)
			continue
		}
		out[k] = v
	}
	return out
}

// configHash 配置指纹，用于结果缓存与历史去重
func configHash(s analyzer.Settings, opts analyzer.AnalyzeOptions) string {
	raw, _ := json.Marshal(struct {
		Settings analyzer.Settings       `json:"settings"`
		Options  analyzer.AnalyzeOptions `json:"options"`
	}{s, opts})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range append(append([]string(nil), a...), b...) {
		if v = strings.TrimSpace(v); v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// ModuleInfo 模块说明
type ModuleInfo struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	Weight           float64 `json:"weight"`
	NormalizedWeight float64 `json:"normalized_weight"`
	Disabled         bool    `json:"disabled"`
	DefaultConfig    any     `json:"default_config"`
}

// Modules 当前配置下的模块列表
func (s *Service) Modules() ([]ModuleInfo, error) {
	a, err := analyzer.NewFromSettings(s.settings)
	if err != nil {
		return nil, err
	}
	disabled := map[string]bool{}
	for _, n := range s.disabled {
		disabled[n] = true
	}
	weights := a.Weights()
	total := 0.0
	for _, m := range a.Modules() {
		if !disabled[m.Name()] {
			total += weights[m.Name()]
		}
	}
	out := make([]ModuleInfo, 0, len(weights))
	for _, m := range a.Modules() {
		info := ModuleInfo{
			Name:          m.Name(),
			Description:   m.Description(),
			Weight:        weights[m.Name()],
			Disabled:      disabled[m.Name()],
			DefaultConfig: m.DefaultConfig(),
		}
		if !info.Disabled && total > 0 {
			info.NormalizedWeight = info.Weight / total
		}
		out = append(out, info)
	}
	return out, nil
}

// History 历史分析记录
func (s *Service) History(ctx context.Context, code string, limit int) ([]store.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.History(ctx, code, limit)
}

// Record 单条历史记录（含完整结果）
func (s *Service) Record(ctx context.Context, id int64) (*store.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Get(ctx, id)
}

// Patterns 吸筹形态库
func (s *Service) Patterns(ctx context.Context) ([]analyzer.AccumulationPattern, error) {
	if s.store == nil {
		return analyzer.DefaultPatterns(), nil
	}
	return s.store.Patterns(ctx)
}

// UpsertPattern 新增或更新形态模板
func (s *Service) UpsertPattern(ctx context.Context, p analyzer.AccumulationPattern) error {
	if s.store == nil {
		return ErrNoStore
	}
	if err := s.store.UpsertPattern(ctx, p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// DeletePattern 删除形态模板
func (s *Service) DeletePattern(ctx context.Context, name string) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.DeletePattern(ctx, name)
}

// ScanResult 批量扫描中单只股票的结果
type ScanResult struct {
	Code     string  `json:"code"`
	Name     string  `json:"name,omitempty"`
	Score    float64 `json:"score"`
	Level    string  `json:"level,omitempty"`
	RecordID int64   `json:"record_id,omitempty"`
	Error    string  `json:"error,omitempty"`

	Composite *model.CompositeResult `json:"-"` // 失败时为 nil
}

// Scan 逐只分析，单只失败不影响其余；ctx 取消时立即返回已完成部分
func (s *Service) Scan(ctx context.Context, codes []string, tmpl AnalyzeRequest, progress func(done int, code string)) ([]ScanResult, error) {
	out := make([]ScanResult, 0, len(codes))
	for i, code := range codes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if progress != nil {
			progress(i, code)
		}
		req := tmpl
		req.Code = code
		req.Series, req.Meta, req.Context = nil, nil, nil
		resp, err := s.AnalyzeStock(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out = append(out, ScanResult{Code: code, Error: err.Error()})
			continue
		}
		out = append(out, ScanResult{
			Code:      code,
			Name:      resp.Result.StockName,
			Score:     resp.Result.Score,
			Level:     resp.Level,
			RecordID:  resp.RecordID,
			Composite: resp.Result,
		})
	}
	if progress != nil {
		progress(len(codes), "")
	}
	return out, nil
}
