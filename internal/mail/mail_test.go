package mail

import (
	"strings"
	"testing"

	"fund-burying-backend/internal/model"
)

func TestRenderAlertEscapesAndFormats(t *testing.T) {
	res := &model.CompositeResult{StockCode: "600519", StockName: "<贵州茅台>"}
	res.Score = 82.345
	res.Description = "资金持续流入"

	body, err := RenderAlert("2024-03-01", 70, []*model.CompositeResult{res}, func(float64) string { return "强烈" })
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"600519", "&lt;贵州茅台&gt;", "82.3", "强烈", "70.0", "2024-03-01"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestSendRequiresConfig(t *testing.T) {
	if err := (Sender{}).Send("a@example.com", "s", "b"); err == nil {
		t.Fatal("expected config error")
	}
	if err := (Sender{Host: "h", User: "u", Pass: "p"}).SendAmbushAlert(nil, "2024-03-01", 70, nil, nil); err == nil {
		t.Fatal("expected error without recipients")
	}
	// 无结果时不发信
	if err := (Sender{}).SendAmbushAlert([]string{"a@example.com"}, "2024-03-01", 70, nil, nil); err != nil {
		t.Fatalf("empty results should be a no-op: %v", err)
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("from@x.com", "to@x.com", "主题", "<p>hi</p>"))
	if !strings.HasPrefix(msg, "From: from@x.com\r\nTo: to@x.com\r\nSubject: 主题\r\n") ||
		!strings.HasSuffix(msg, "\r\n\r\n<p>hi</p>") {
		t.Fatalf("unexpected message: %q", msg)
	}
}
