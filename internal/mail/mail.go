// Package mail 发送埋伏预警邮件（SMTP over TLS）
package mail

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"

	"fund-burying-backend/internal/model"
)

// Sender SMTP 发信配置
type Sender struct {
	Host string
	Port int
	User string
	Pass string
}

// Send 发送 HTML 邮件
func (s Sender) Send(to, subject, body string) error {
	if s.Host == "" || s.User == "" || s.Pass == "" {
		return fmt.Errorf("邮件配置不完整，请检查 SMTP_HOST, SMTP_USER, SMTP_PASS")
	}
	port := s.Port
	if port == 0 {
		port = 465
	}

	msg := buildMessage(s.User, to, subject, body)

	// 163 等邮箱要求 SSL 直连
	conn, err := tls.Dial("tcp", fmt.Sprintf("%s:%d", s.Host, port), &tls.Config{ServerName: s.Host})
	if err != nil {
		return fmt.Errorf("连接邮件服务器失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", s.User, s.Pass, s.Host)); err != nil {
		return fmt.Errorf("邮件认证失败: %w", err)
	}
	if err := client.Mail(s.User); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("设置收件人失败: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取写入器失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("关闭写入器失败: %w", err)
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body))
}

var alertTmpl = template.Must(template.New("alert").Funcs(template.FuncMap{
	"f1": func(v float64) string { return fmt.Sprintf("%.1f", v) },
}).Parse(`
<div style="font-family: Arial, sans-serif; max-width: 640px; margin: 0 auto; padding: 20px;">
	<h2 style="color: #ef4444;">埋伏预警 - {{.TradeDate}}</h2>
	<p>以下股票综合埋伏得分达到 {{f1 .Threshold}} 分：</p>
	<table style="width: 100%; border-collapse: collapse;">
		<tr style="background: #1e293b; color: #fff;"><th>代码</th><th>名称</th><th>得分</th><th>等级</th><th>结论</th></tr>
		{{range .Rows}}
		<tr style="border-bottom: 1px solid #e2e8f0;">
			<td>{{.StockCode}}</td><td>{{.StockName}}</td><td>{{f1 .Score}}</td><td>{{.Level}}</td><td>{{.Description}}</td>
		</tr>
		{{end}}
	</table>
	<p style="color: #64748b; font-size: 12px; margin-top: 20px;">此邮件由系统自动发送，请勿回复。分析结果不构成投资建议。</p>
</div>`))

type alertRow struct {
	StockCode   string
	StockName   string
	Score       float64
	Level       string
	Description string
}

// RenderAlert 生成预警邮件正文，results 应已按得分过滤
func RenderAlert(tradeDate string, threshold float64, results []*model.CompositeResult, level func(float64) string) (string, error) {
	data := struct {
		TradeDate string
		Threshold float64
		Rows      []alertRow
	}{TradeDate: tradeDate, Threshold: threshold}
	for _, r := range results {
		data.Rows = append(data.Rows, alertRow{
			StockCode:   r.StockCode,
			StockName:   r.StockName,
			Score:       r.Score,
			Level:       level(r.Score),
			Description: r.Description,
		})
	}
	var buf bytes.Buffer
	if err := alertTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("渲染预警邮件失败: %w", err)
	}
	return buf.String(), nil
}

// SendAmbushAlert 逐个收件人发送，返回最后一个错误
func (s Sender) SendAmbushAlert(recipients []string, tradeDate string, threshold float64, results []*model.CompositeResult, level func(float64) string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("未配置通知邮箱 NOTIFY_EMAILS")
	}
	if len(results) == 0 {
		return nil
	}
	body, err := RenderAlert(tradeDate, threshold, results, level)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("【埋伏分析】%s 共 %d 只股票触发预警", tradeDate, len(results))

	var lastErr error
	for _, to := range recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		if err := s.Send(to, subject, body); err != nil {
			lastErr = err
			log.Printf("[WARN][Mail] 发送预警到 %s 失败: %v", to, err)
		} else {
			log.Printf("[INFO][Mail] 预警已发送到 %s", to)
		}
	}
	return lastErr
}
