// Package scheduler 收盘后自选股埋伏扫描与预警
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"fund-burying-backend/internal/analyzer"
	"fund-burying-backend/internal/config"
	"fund-burying-backend/internal/holiday"
	"fund-burying-backend/internal/model"
	"fund-burying-backend/internal/service"
	"fund-burying-backend/internal/trace"
)

// Scanner 批量分析
type Scanner interface {
	Scan(ctx context.Context, codes []string, tmpl service.AnalyzeRequest, progress func(done int, code string)) ([]service.ScanResult, error)
}

// Notifier 预警通知
type Notifier interface {
	SendAmbushAlert(recipients []string, tradeDate string, threshold float64, results []*model.CompositeResult, level func(float64) string) error
}

// PostMarketScan 交易日收盘后扫描自选股，得分达到阈值时发邮件
type PostMarketScan struct {
	Scanner       Scanner
	Notifier      Notifier
	Recipients    []string
	Watchlist     []string
	Hour, Minute  int
	RetryCount    int
	RetryInterval time.Duration
	AlertScore    float64

	sleep func(ctx context.Context, d time.Duration) error
}

// New 按配置构造；notifier 为 nil 时只扫描不发信
func New(cfg *config.AppConfig, scanner Scanner, notifier Notifier) *PostMarketScan {
	hour, minute := parseClock(cfg.Scheduler.Time, 16, 30)
	retry := cfg.Scheduler.RetryCount
	if retry < 0 {
		retry = 0
	}
	interval := cfg.Scheduler.RetryInterval
	if interval <= 0 {
		interval = 10
	}
	return &PostMarketScan{
		Scanner:       scanner,
		Notifier:      notifier,
		Recipients:    cfg.NotifyEmails,
		Watchlist:     cfg.Scheduler.Watchlist,
		Hour:          hour,
		Minute:        minute,
		RetryCount:    retry,
		RetryInterval: time.Duration(interval) * time.Minute,
		AlertScore:    cfg.Analyzer.AlertScore,
	}
}

// Start 后台循环，ctx 取消后退出
func (p *PostMarketScan) Start(ctx context.Context) {
	if len(p.Watchlist) == 0 {
		log.Println("[INFO][Scheduler] 未配置自选股 POST_MARKET_WATCHLIST，收盘后扫描不启动")
		return
	}
	log.Printf("[INFO][Scheduler] 收盘后扫描已启动，时间: %02d:%02d，自选股: %d只，重试次数: %d，重试间隔: %v",
		p.Hour, p.Minute, len(p.Watchlist), p.RetryCount, p.RetryInterval)

	go func() {
		for {
			next := holiday.NextRun(time.Now(), p.Hour, p.Minute)
			wait := time.Until(next)
			log.Printf("[INFO][Scheduler] 下次收盘后扫描: %s（%v后）", next.Format("2006-01-02 15:04:05"), wait.Round(time.Minute))
			if err := p.doSleep(ctx, wait); err != nil {
				log.Println("[INFO][Scheduler] 收盘后扫描已停止")
				return
			}
			p.RunWithRetry(trace.WithTraceID(ctx, ""))
		}
	}()
}

// RunWithRetry 失败时按间隔重试
func (p *PostMarketScan) RunWithRetry(ctx context.Context) error {
	var err error
	for i := 0; i <= p.RetryCount; i++ {
		if i > 0 {
			trace.Info(ctx, "Scheduler", "第 %d 次重试收盘后扫描...", i)
		}
		if err = p.RunOnce(ctx); err == nil {
			return nil
		}
		trace.Warn(ctx, "Scheduler", "收盘后扫描失败: %v", err)
		if i < p.RetryCount {
			if serr := p.doSleep(ctx, p.RetryInterval); serr != nil {
				return serr
			}
		}
	}
	trace.Error(ctx, "Scheduler", "收盘后扫描失败，已重试 %d 次", p.RetryCount)
	return err
}

// RunOnce 扫描一次；全部股票都失败视为本轮失败
func (p *PostMarketScan) RunOnce(ctx context.Context) error {
	results, err := p.Scanner.Scan(ctx, p.Watchlist, service.AnalyzeRequest{NoCache: true}, nil)
	if err != nil {
		return err
	}
	var alerts []*model.CompositeResult
	failed := 0
	tradeDate := ""
	for _, r := range results {
		if r.Error != "" || r.Composite == nil {
			failed++
			trace.Warn(ctx, "Scheduler", "%s 分析失败: %s", r.Code, r.Error)
			continue
		}
		if r.Composite.TradeDate > tradeDate {
			tradeDate = r.Composite.TradeDate
		}
		if r.Score >= p.AlertScore {
			alerts = append(alerts, r.Composite)
		}
	}
	if len(results) > 0 && failed == len(results) {
		return fmt.Errorf("%d只自选股全部分析失败", failed)
	}
	trace.Info(ctx, "Scheduler", "收盘后扫描完成: 成功 %d 只，失败 %d 只，预警 %d 只", len(results)-failed, failed, len(alerts))

	if len(alerts) == 0 || p.Notifier == nil || len(p.Recipients) == 0 {
		return nil
	}
	if err := p.Notifier.SendAmbushAlert(p.Recipients, tradeDate, p.AlertScore, alerts, analyzer.Level); err != nil {
		// 发信失败不重跑扫描
		trace.Warn(ctx, "Scheduler", "发送预警邮件失败: %v", err)
	}
	return nil
}

func (p *PostMarketScan) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseClock 解析 HH:MM，非法时用默认值
func parseClock(s string, defHour, defMinute int) (int, int) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return defHour, defMinute
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return defHour, defMinute
	}
	return h, m
}
