package stockdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/trace"
)

// SeriesCacheTTL 日线序列缓存时间
var SeriesCacheTTL = 10 * time.Minute

// MaxSeriesDays 单次拉取的最大交易日数
const MaxSeriesDays = 500

// LoadSeries 拉取前复权日线并合并主力资金流向，按日期升序。
// 资金流接口失败时只返回 K 线字段，由分析模块按缺失字段处理。
func LoadSeries(ctx context.Context, code string, days int) (model.StockSeries, error) {
	if !ValidCode(code) {
		return nil, fmt.Errorf("股票代码格式错误: %q", code)
	}
	if days <= 0 {
		days = 120
	}
	days = min(days, MaxSeriesDays)
	cacheKey := fmt.Sprintf("ambush:series:%s:%d", code, days)
	var cached model.StockSeries
	if err := getCacheProvider().Get(cacheKey, &cached); err == nil && cached.Len() > 0 {
		return cached, nil
	}

	body, err := fetch(ctx, klineURL(code, days))
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}
	series, err := parseKlines(body)
	if err != nil {
		return nil, err
	}

	flowBody, err := fetch(ctx, fundFlowURL(code, days))
	if err != nil {
		trace.Warn(ctx, "StockData", "%s 资金流向获取失败: %v", code, err)
	} else if flows, err := parseFundFlow(flowBody); err != nil {
		trace.Warn(ctx, "StockData", "%s 资金流向解析失败: %v", code, err)
	} else {
		mergeFlows(series, flows)
	}

	if err := getCacheProvider().Set(cacheKey, series, SeriesCacheTTL); err != nil {
		trace.Warn(ctx, "StockData", "缓存日线失败: %v", err)
	}
	return series, nil
}

func klineURL(code string, days int) string {
	return fmt.Sprintf("%s/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61&klt=101&fqt=1&end=20500101&lmt=%d",
		EastMoneyHisBase, SecID(code), days)
}

func fundFlowURL(code string, days int) string {
	return fmt.Sprintf("%s/api/qt/stock/fflow/daykline/get?secid=%s&fields1=f1,f2,f3,f7&fields2=f51,f52,f53,f54,f55,f56,f57&lmt=%d",
		EastMoneyHisBase, SecID(code), days)
}

// parseKlines f51 日期 f52 开 f53 收 f54 高 f55 低 f56 成交量(手) f57 成交额 f58 振幅 f59 涨跌幅 f60 涨跌额 f61 换手率
func parseKlines(body []byte) (model.StockSeries, error) {
	klines := gjson.GetBytes(body, "data.klines")
	if !klines.Exists() || !klines.IsArray() {
		return nil, fmt.Errorf("K线响应缺少 data.klines")
	}
	var out model.StockSeries
	for _, v := range klines.Array() {
		parts := strings.Split(strings.TrimSpace(v.String()), ",")
		if len(parts) < 7 {
			continue
		}
		r := model.DailyRecord{Date: parts[0], Values: map[string]float64{}}
		setField(r.Values, model.FieldOpen, parts[1])
		setField(r.Values, model.FieldClose, parts[2])
		setField(r.Values, model.FieldHigh, parts[3])
		setField(r.Values, model.FieldLow, parts[4])
		setField(r.Values, model.FieldVolume, parts[5])
		setField(r.Values, model.FieldAmount, parts[6])
		if len(parts) >= 11 {
			setField(r.Values, model.FieldTurnoverRate, parts[10])
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("K线数据为空")
	}
	return out, nil
}

// FundFlow 单日资金流向（元）
type FundFlow struct {
	Main       float64
	Small      float64
	Medium     float64
	Large      float64
	SuperLarge float64
}

// parseFundFlow f51 日期 f52 主力净流入 f53 小单 f54 中单 f55 大单 f56 超大单
func parseFundFlow(body []byte) (map[string]FundFlow, error) {
	klines := gjson.GetBytes(body, "data.klines")
	if !klines.Exists() || !klines.IsArray() {
		return nil, fmt.Errorf("资金流响应缺少 data.klines")
	}
	out := map[string]FundFlow{}
	for _, v := range klines.Array() {
		parts := strings.Split(strings.TrimSpace(v.String()), ",")
		if len(parts) < 6 {
			continue
		}
		var f FundFlow
		var err error
		if f.Main, err = strconv.ParseFloat(parts[1], 64); err != nil {
			continue
		}
		f.Small, _ = strconv.ParseFloat(parts[2], 64)
		f.Medium, _ = strconv.ParseFloat(parts[3], 64)
		f.Large, _ = strconv.ParseFloat(parts[4], 64)
		f.SuperLarge, _ = strconv.ParseFloat(parts[5], 64)
		out[parts[0]] = f
	}
	return out, nil
}

func mergeFlows(series model.StockSeries, flows map[string]FundFlow) {
	for _, r := range series {
		f, ok := flows[r.Date]
		if !ok {
			continue
		}
		r.Values[model.FieldFundFlow] = f.Main
		r.Values[model.FieldLargeOrderNetInflow] = f.Large + f.SuperLarge
	}
}

func setField(values map[string]float64, field, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		values[field] = v
	}
}
