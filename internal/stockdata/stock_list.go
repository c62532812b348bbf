package stockdata

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/trace"
)

// HTTPClient HTTP客户端
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// 东方财富接口地址，测试中可替换
var (
	EastMoneyHisBase   = "https://push2his.eastmoney.com"
	EastMoneyQuoteBase = "https://push2.eastmoney.com"
)

const (
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	referer    = "https://quote.eastmoney.com"
	maxRetries = 3
	retryDelay = 500 * time.Millisecond
)

var (
	stockListCache []model.Stock
	stockListMutex sync.RWMutex
	lastFetchTime  time.Time
	cacheDuration  = 24 * time.Hour
)

// SecID 东方财富 secid：沪市 1.xxxxxx，深市 0.xxxxxx
func SecID(code string) string {
	if MarketOf(code) == "SH" {
		return "1." + code
	}
	return "0." + code
}

// MarketOf 按代码前缀判断市场
func MarketOf(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "5") || strings.HasPrefix(code, "9") {
		return "SH"
	}
	return "SZ"
}

// ValidCode 6 位数字代码
func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// fetch 带重试的 GET，返回响应体
func fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			trace.Warn(ctx, "StockData", "重试 %d/%d %s: %v", attempt, maxRetries, url, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Referer", referer)

		resp, err := HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("请求失败: %w", lastErr)
}

// GetStockList 获取沪深主板股票列表（24 小时缓存）
func GetStockList(ctx context.Context) ([]model.Stock, error) {
	stockListMutex.RLock()
	if len(stockListCache) > 0 && time.Since(lastFetchTime) < cacheDuration {
		defer stockListMutex.RUnlock()
		return stockListCache, nil
	}
	stockListMutex.RUnlock()

	var all []model.Stock
	for _, fs := range []string{"m:1+t:2,m:1+t:23", "m:0+t:6,m:0+t:80"} {
		url := fmt.Sprintf("%s/api/qt/clist/get?pn=1&pz=5000&fs=%s&fields=f12,f14", EastMoneyQuoteBase, fs)
		body, err := fetch(ctx, url)
		if err != nil {
			log.Printf("[WARN][StockData] 获取股票列表失败 fs=%s: %v", fs, err)
			continue
		}
		all = append(all, parseStockList(body)...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("获取股票列表失败")
	}
	log.Printf("[INFO][StockData] 股票列表共 %d 只", len(all))

	stockListMutex.Lock()
	stockListCache = all
	lastFetchTime = time.Now()
	stockListMutex.Unlock()
	return all, nil
}

// parseStockList data.diff 可能是数组，也可能是 {"0": {...}} 形式的对象
func parseStockList(body []byte) []model.Stock {
	diff := gjson.GetBytes(body, "data.diff")
	if !diff.Exists() {
		return nil
	}
	var out []model.Stock
	diff.ForEach(func(_, item gjson.Result) bool {
		code := strings.TrimSpace(item.Get("f12").String())
		name := strings.TrimSpace(item.Get("f14").String())
		if !ValidCode(code) {
			return true
		}
		out = append(out, model.Stock{Code: code, Name: name, Market: MarketOf(code)})
		return true
	})
	return out
}

// SearchStocks 按代码或名称搜索，最多 100 条
func SearchStocks(ctx context.Context, keyword string) ([]model.Stock, error) {
	all, err := GetStockList(ctx)
	if err != nil {
		return nil, err
	}
	keyword = strings.ToUpper(strings.TrimSpace(keyword))
	if keyword == "" {
		return all[:min(100, len(all))], nil
	}
	var result []model.Stock
	for _, s := range all {
		if strings.Contains(s.Code, keyword) || strings.Contains(strings.ToUpper(s.Name), keyword) {
			result = append(result, s)
			if len(result) >= 100 {
				break
			}
		}
	}
	return result, nil
}

// GetStockName 获取股票名称
func GetStockName(ctx context.Context, code string) (string, error) {
	all, err := GetStockList(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range all {
		if s.Code == code {
			return s.Name, nil
		}
	}
	return "", fmt.Errorf("股票不存在: %s", code)
}
