package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/trace"
)

// Sidecar akshare Python 服务客户端：提供市场快照与低频披露数据（股东户数、机构/北向持股、大宗交易）
type Sidecar struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSidecar baseURL 为空时返回 nil，调用方按无 sidecar 处理
func NewSidecar(baseURL string) *Sidecar {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	return &Sidecar{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *Sidecar) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := s.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if id := trace.TraceID(ctx); id != "" {
		req.Header.Set(trace.Header, id)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求Python服务失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("Python服务返回 %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}

// MarketContext 分析时刻的市场快照；code 用于确定所属行业
func (s *Sidecar) MarketContext(ctx context.Context, code string) (model.MarketContext, error) {
	var mc model.MarketContext
	if s == nil {
		return mc, fmt.Errorf("未配置Python服务")
	}
	body, err := s.get(ctx, "/api/ambush/context", url.Values{"code": {code}})
	if err != nil {
		return mc, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsObject() {
		return mc, fmt.Errorf("市场快照响应缺少 data")
	}
	if err := json.Unmarshal([]byte(data.Raw), &mc); err != nil {
		return mc, fmt.Errorf("解析市场快照失败: %w", err)
	}
	if !mc.MarketStatus.Valid() {
		trace.Warn(ctx, "Sidecar", "未知市场状态 %q，按未知处理", mc.MarketStatus)
		mc.MarketStatus = model.MarketUnknown
	}
	return mc, nil
}

// Disclosures 稀疏披露记录，只在披露日有值
func (s *Sidecar) Disclosures(ctx context.Context, code string, days int) ([]model.DailyRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("未配置Python服务")
	}
	body, err := s.get(ctx, "/api/ambush/disclosures/"+url.PathEscape(code), url.Values{"days": {fmt.Sprint(days)}})
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("披露数据响应缺少 data")
	}
	var records []model.DailyRecord
	if err := json.Unmarshal([]byte(data.Raw), &records); err != nil {
		return nil, fmt.Errorf("解析披露数据失败: %w", err)
	}
	return records, nil
}
