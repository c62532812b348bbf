package stockdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/trace"
)

// MetaCacheTTL 股票资料缓存时间
var MetaCacheTTL = 6 * time.Hour

var yi = decimal.NewFromInt(100000000)

// LoadMeta 获取股票名称、总市值（亿元）与所属行业
func LoadMeta(ctx context.Context, code string) (model.StockMeta, error) {
	if !ValidCode(code) {
		return model.StockMeta{}, fmt.Errorf("股票代码格式错误: %q", code)
	}
	cacheKey := "ambush:meta:" + code
	var cached model.StockMeta
	if err := getCacheProvider().Get(cacheKey, &cached); err == nil && cached.Code == code {
		return cached, nil
	}

	url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s&fields=f57,f58,f116,f127", EastMoneyQuoteBase, SecID(code))
	body, err := fetch(ctx, url)
	if err != nil {
		return model.StockMeta{}, fmt.Errorf("获取股票资料失败: %w", err)
	}
	meta, err := parseProfile(body, code)
	if err != nil {
		return model.StockMeta{}, err
	}
	if meta.Name == "" {
		if name, err := GetStockName(ctx, code); err == nil {
			meta.Name = name
		}
	}
	if err := getCacheProvider().Set(cacheKey, meta, MetaCacheTTL); err != nil {
		trace.Warn(ctx, "StockData", "缓存股票资料失败: %v", err)
	}
	return meta, nil
}

// parseProfile f57 代码 f58 名称 f116 总市值(元) f127 行业
func parseProfile(body []byte, code string) (model.StockMeta, error) {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return model.StockMeta{}, fmt.Errorf("股票资料为空: %s", code)
	}
	meta := model.StockMeta{
		Code:     code,
		Name:     strings.TrimSpace(data.Get("f58").String()),
		Market:   MarketOf(code),
		Industry: strings.TrimSpace(data.Get("f127").String()),
	}
	if c := data.Get("f116"); c.Type == gjson.Number && c.Float() > 0 {
		capYuan, err := decimal.NewFromString(c.Raw)
		if err != nil {
			capYuan = decimal.NewFromFloat(c.Float())
		}
		meta.MarketCap = capYuan.Div(yi).Round(2)
	}
	if meta.Industry == "-" {
		meta.Industry = ""
	}
	return meta, nil
}
