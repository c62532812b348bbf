// Package config 从 .env 与环境变量加载服务配置
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/gjson"

	"fund-burying-backend/internal/analyzer"
)

// RedisConfig Redis 缓存；Addr 为空时使用进程内缓存
type RedisConfig struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
	Prefix   string `envconfig:"PREFIX" default:"fund-burying:"`
}

// AnalyzerConfig 编排器配置
type AnalyzerConfig struct {
	Weights      map[string]float64 `envconfig:"WEIGHTS"`  // fund_flow:0.4,main_force:0.3
	Disabled     []string           `envconfig:"DISABLED"` // 逗号分隔
	ModuleConfig string             `envconfig:"MODULE_CONFIG"`
	Parallel     *bool              `envconfig:"PARALLEL"` // 未设置时取模块配置文件，文件也未设置则并行
	AlertScore   float64            `envconfig:"ALERT_SCORE" default:"70"`
}

// SchedulerConfig 收盘后自选股扫描
type SchedulerConfig struct {
	Enabled       bool     `envconfig:"ENABLED" default:"true"`
	Time          string   `envconfig:"TIME" default:"16:30"`
	RetryCount    int      `envconfig:"RETRY_COUNT" default:"3"`
	RetryInterval int      `envconfig:"RETRY_INTERVAL" default:"10"` // 分钟
	Watchlist     []string `envconfig:"WATCHLIST"`
}

// SMTPConfig 预警邮件
type SMTPConfig struct {
	Host string `envconfig:"HOST"`
	Port int    `envconfig:"PORT" default:"465"`
	User string `envconfig:"USER"`
	Pass string `envconfig:"PASS"`
}

// Configured 发信所需字段是否齐全
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.User != "" && c.Pass != ""
}

// AppConfig 服务全部配置
type AppConfig struct {
	Port             string          `envconfig:"PORT" default:"8080"`
	CORSOrigins      []string        `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	DBPath           string          `envconfig:"AMBUSH_DB_PATH" default:"data"`
	PythonServiceURL string          `envconfig:"PYTHON_SERVICE_URL"`
	HolidayFile      string          `envconfig:"HOLIDAY_CONFIG_FILE" default:"holidays.json"`
	NotifyEmails     []string        `envconfig:"NOTIFY_EMAILS"`
	Redis            RedisConfig     `envconfig:"REDIS"`
	Analyzer         AnalyzerConfig  `envconfig:"AMBUSH"`
	Scheduler        SchedulerConfig `envconfig:"POST_MARKET"`
	SMTP             SMTPConfig      `envconfig:"SMTP"`
}

// Load 先读 .env.local、.env（不覆盖已有环境变量），再映射到 AppConfig
func Load() (*AppConfig, error) {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	cfg.Analyzer.Disabled = trimAll(cfg.Analyzer.Disabled)
	cfg.Scheduler.Watchlist = trimAll(cfg.Scheduler.Watchlist)
	cfg.NotifyEmails = trimAll(cfg.NotifyEmails)
	return &cfg, nil
}

// AnalyzerSettings 模块配置文件为底，环境变量中的权重与并行开关覆盖其上。
// 并行开关优先级：AMBUSH_PARALLEL > 文件 parallel > 默认开启
func (c *AppConfig) AnalyzerSettings() (analyzer.Settings, error) {
	s, fileParallel, err := loadModuleSettings(c.Analyzer.ModuleConfig)
	if err != nil {
		return s, err
	}
	if len(c.Analyzer.Weights) > 0 {
		if s.Weights == nil {
			s.Weights = map[string]float64{}
		}
		for k, v := range c.Analyzer.Weights {
			s.Weights[strings.TrimSpace(k)] = v
		}
	}
	switch {
	case c.Analyzer.Parallel != nil:
		s.Parallel = *c.Analyzer.Parallel
	case !fileParallel:
		s.Parallel = true
	}
	return s, nil
}

// LoadModuleSettings 读取 JSON 模块配置文件；路径为空返回零值
// 文件格式：{"weights": {"fund_flow": 0.4}, "modules": {"technical_pattern": {"min_records": 20}}, "parallel": true}
func LoadModuleSettings(path string) (analyzer.Settings, error) {
	s, _, err := loadModuleSettings(path)
	return s, err
}

// loadModuleSettings 额外返回文件是否显式设置了 parallel
func loadModuleSettings(path string) (analyzer.Settings, bool, error) {
	var s analyzer.Settings
	if strings.TrimSpace(path) == "" {
		return s, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, false, fmt.Errorf("读取模块配置文件失败: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return s, false, fmt.Errorf("解析模块配置文件失败: %w", err)
	}
	return s, gjson.GetBytes(data, "parallel").Exists(), nil
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
