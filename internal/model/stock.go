package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// 日线基础字段
const (
	FieldDate   = "date"
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
	FieldAmount = "amount"
)

// 资金流向扩展字段（单位：元）
const (
	FieldFundFlow            = "fund_flow"              // 主力净流入
	FieldLargeOrderBuy       = "large_order_buy"        // 大单买入额
	FieldLargeOrderSell      = "large_order_sell"       // 大单卖出额
	FieldLargeOrderNetInflow = "large_order_net_inflow" // 大单净流入
	FieldClosingFundFlow     = "closing_fund_flow"      // 尾盘资金净流入
	FieldActiveBuyRatio      = "active_buy_ratio"       // 主动买入占比（0-1）
)

// 股本结构与持仓扩展字段（多为稀疏字段，只在披露日有值）
const (
	FieldTurnoverRate            = "turnover_rate"             // 换手率（%）
	FieldClosingVolume           = "closing_volume"            // 尾盘成交量
	FieldShareholderCount        = "shareholder_count"         // 股东户数
	FieldInstitutionHoldingRatio = "institution_holding_ratio" // 机构持股比例（%）
	FieldNorthboundHoldingRatio  = "northbound_holding_ratio"  // 北向持股比例（%）
	FieldBlockTradePrice         = "block_trade_price"         // 大宗交易成交均价
	FieldBlockTradeVolume        = "block_trade_volume"        // 大宗交易成交量
)

// BaselineFields 所有模块运行的最低字段要求（date 单独校验）
var BaselineFields = []string{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldAmount}

// Stock 股票基本信息
type Stock struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market"` // SH: 上海, SZ: 深圳
}

// StockMeta 单只股票的身份信息，每次分析构造一次
type StockMeta struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Market    string          `json:"market"`
	MarketCap decimal.Decimal `json:"market_cap"` // 总市值（亿元）
	Industry  string          `json:"industry"`
}

// MarketCapFloat 总市值（亿元）的浮点值
func (m StockMeta) MarketCapFloat() float64 {
	return m.MarketCap.InexactFloat64()
}

// MarketStatus 市场状态
type MarketStatus string

const (
	MarketBull    MarketStatus = "bull"
	MarketBear    MarketStatus = "bear"
	MarketShock   MarketStatus = "shock"
	MarketUnknown MarketStatus = ""
)

// Valid 是否为已知状态（空值视为未知，合法）
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketBull, MarketBear, MarketShock, MarketUnknown:
		return true
	}
	return false
}

// Valuation 行业估值
type Valuation struct {
	PE           *float64 `json:"pe,omitempty"`
	PB           *float64 `json:"pb,omitempty"`
	PEPercentile *float64 `json:"pe_percentile,omitempty"` // 历史分位（0-1）
	PBPercentile *float64 `json:"pb_percentile,omitempty"`
}

// MarketContext 分析时刻的市场快照，所有数值字段都可缺省，缺省即证据不足
type MarketContext struct {
	MarketStatus             MarketStatus `json:"market_status,omitempty"`
	MarketStyle              string       `json:"market_style,omitempty"` // small_cap / mid_cap / large_cap / balanced
	IndexPriceChange         *float64     `json:"index_price_change,omitempty"`
	IndustryPriceChange      *float64     `json:"industry_price_change,omitempty"`
	MarketTurnover           *float64     `json:"market_turnover,omitempty"`
	MarketMoneyFlow          *float64     `json:"market_money_flow,omitempty"`
	NorthboundFlow           *float64     `json:"northbound_flow,omitempty"`
	IndustryFundFlow         *float64     `json:"industry_fund_flow,omitempty"`
	IndustryValuation        *Valuation   `json:"industry_valuation,omitempty"`
	MarketSentimentIndex     *float64     `json:"market_sentiment_index,omitempty"`
	SectorDiffusion          *float64     `json:"sector_diffusion,omitempty"`           // 板块上涨家数占比（0-1）
	SectorRotationPercentile *float64     `json:"sector_rotation_percentile,omitempty"` // 板块近期涨幅在全部板块中的分位（0-1）
}

// Float 取可选字段的值，缺省或非有限值返回 ok=false
func Float(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// Ptr 构造可选数值
func Ptr(v float64) *float64 {
	return &v
}

// DailyRecord 单日记录：日期 + 命名数值字段，缺失字段不出现在 Values 中
type DailyRecord struct {
	Date   string
	Values map[string]float64
}

// Get 取字段值，缺失返回 NaN
func (r DailyRecord) Get(field string) float64 {
	if v, ok := r.Values[field]; ok {
		return v
	}
	return math.NaN()
}

// Has 字段是否存在且为有限值
func (r DailyRecord) Has(field string) bool {
	v, ok := r.Values[field]
	return ok && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// UnmarshalJSON 平铺对象 {"date": "...", "close": 1.2, ...}；null 视为缺失，数值字符串也接受
func (r *DailyRecord) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("日线记录不是合法JSON")
	}
	obj := gjson.ParseBytes(b)
	if !obj.IsObject() {
		return fmt.Errorf("日线记录必须是对象")
	}
	out := DailyRecord{Values: map[string]float64{}}
	var parseErr error
	obj.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == FieldDate {
			out.Date = strings.TrimSpace(value.String())
			return true
		}
		switch value.Type {
		case gjson.Null:
			return true
		case gjson.Number:
			out.Values[k] = value.Float()
		case gjson.String:
			s := strings.TrimSpace(value.String())
			if s == "" || s == "-" {
				return true
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				parseErr = fmt.Errorf("字段 %s 不是数值: %q", k, s)
				return false
			}
			out.Values[k] = f
		default:
			parseErr = fmt.Errorf("字段 %s 类型不支持", k)
			return false
		}
		return true
	})
	if parseErr != nil {
		return parseErr
	}
	*r = out
	return nil
}

// MarshalJSON 输出平铺对象，键按字典序
func (r DailyRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Values)+1)
	m[FieldDate] = r.Date
	for k, v := range r.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m[k] = nil
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}

// StockSeries 按日期升序的日线序列
type StockSeries []DailyRecord

// Len 记录数
func (s StockSeries) Len() int { return len(s) }

// Dates 日期列
func (s StockSeries) Dates() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = r.Date
	}
	return out
}

// Column 字段列，缺失日为 NaN
func (s StockSeries) Column(field string) []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = r.Get(field)
	}
	return out
}

// HasField 至少一条记录有该字段的有效值
func (s StockSeries) HasField(field string) bool {
	for _, r := range s {
		if r.Has(field) {
			return true
		}
	}
	return false
}

// MissingFields 返回在序列中完全缺失（或全为空）的字段
func (s StockSeries) MissingFields(fields []string) []string {
	var missing []string
	for _, f := range fields {
		if f == FieldDate {
			for _, r := range s {
				if r.Date == "" {
					missing = append(missing, f)
					break
				}
			}
			continue
		}
		if !s.HasField(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Tail 取最后 n 条（共享底层数组，调用方不得修改）
func (s StockSeries) Tail(n int) StockSeries {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Fields 出现过的全部字段名（字典序）
func (s StockSeries) Fields() []string {
	seen := map[string]bool{}
	for _, r := range s {
		for k := range r.Values {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LastDate 最后一条记录的日期
func (s StockSeries) LastDate() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].Date
}

// Merge 把稀疏记录按日期补入序列，已有字段不覆盖；返回补入的记录数。
// 日期不在序列中的记录丢弃。
func (s StockSeries) Merge(records []DailyRecord) int {
	index := make(map[string]int, len(s))
	for i, r := range s {
		index[r.Date] = i
	}
	merged := 0
	for _, rec := range records {
		i, ok := index[rec.Date]
		if !ok {
			continue
		}
		if s[i].Values == nil {
			s[i].Values = map[string]float64{}
		}
		touched := false
		for k, v := range rec.Values {
			if _, exists := s[i].Values[k]; exists {
				continue
			}
			s[i].Values[k] = v
			touched = true
		}
		if touched {
			merged++
		}
	}
	return merged
}
