// Package holiday 判断 A 股交易日：周末 > 自定义节假日 > 节假日 API > 默认交易
package holiday

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const dateLayout = "2006-01-02"

var (
	// APIBase 节假日 API，置空则只用本地规则
	APIBase = "http://timor.tech/api/holiday/info/"

	mu       sync.RWMutex
	cache    = map[string]entry{}
	cacheTTL = 24 * time.Hour
	custom   = map[string]bool{}
	client   = &http.Client{Timeout: 3 * time.Second}
)

type entry struct {
	trading bool
	at      time.Time
}

// LoadCustomHolidays 从 JSON 文件加载休市日，文件不存在不算错误
// 文件格式：{"holidays": ["2025-01-01", "2025-01-28", ...]}
func LoadCustomHolidays(filePath string) error {
	if filePath == "" {
		return nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取节假日配置文件失败: %w", err)
	}
	var cfg struct {
		Holidays []string `json:"holidays"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("解析节假日配置文件失败: %w", err)
	}
	for _, d := range cfg.Holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("节假日日期格式错误: %s", d)
		}
	}
	SetCustomHolidays(cfg.Holidays)
	log.Printf("[INFO][Holiday] 加载自定义节假日配置: %d个节假日", len(cfg.Holidays))
	return nil
}

// SetCustomHolidays 替换自定义休市日，并清空判定缓存
func SetCustomHolidays(dates []string) {
	mu.Lock()
	defer mu.Unlock()
	custom = make(map[string]bool, len(dates))
	for _, d := range dates {
		custom[d] = true
	}
	cache = map[string]entry{}
}

// IsTradingDay 周六周日永远休市（调休补班也不开市）
func IsTradingDay(date time.Time) bool {
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	key := date.Format(dateLayout)

	mu.RLock()
	e, cached := cache[key]
	isCustom := custom[key]
	mu.RUnlock()
	if cached && time.Since(e.at) < cacheTTL {
		return e.trading
	}

	trading := true
	if isCustom {
		trading = false
	} else if v, ok := checkFromAPI(key); ok {
		trading = v
	}

	mu.Lock()
	cache[key] = entry{trading: trading, at: time.Now()}
	mu.Unlock()
	return trading
}

// PreviousTradingDay 严格早于 date 的最近交易日
func PreviousTradingDay(date time.Time) time.Time {
	d := date.AddDate(0, 0, -1)
	for i := 0; i < 30 && !IsTradingDay(d); i++ {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextRun now 之后第一个交易日的 hour:minute
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	for i := 0; i < 30 && !IsTradingDay(next); i++ {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// checkFromAPI 返回 (是否交易日, 是否取到)。type: 0工作日 1周末 2节假日 3调休
func checkFromAPI(date string) (bool, bool) {
	if APIBase == "" {
		return false, false
	}
	resp, err := client.Get(APIBase + date)
	if err != nil {
		// API失败不打印日志，避免刷屏
		return false, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, false
	}
	if gjson.GetBytes(body, "code").Int() != 0 {
		return false, false
	}
	t := gjson.GetBytes(body, "type.type")
	if !t.Exists() {
		return false, false
	}
	return t.Int() == 0 || t.Int() == 3, true
}

// IsTradingDayNow 今天是否交易日
func IsTradingDayNow() bool {
	return IsTradingDay(time.Now())
}

// IsTradingTimeNow 是否在交易时段（09:30-11:30, 13:00-15:00）
func IsTradingTimeNow() bool {
	now := time.Now()
	if !IsTradingDay(now) {
		return false
	}
	hhmm := now.Hour()*100 + now.Minute()
	return (hhmm >= 930 && hhmm < 1130) || (hhmm >= 1300 && hhmm < 1500)
}
