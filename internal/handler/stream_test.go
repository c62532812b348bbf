package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fund-burying-backend/internal/service"
)

func TestStreamTaskUntilDone(t *testing.T) {
	old := StreamInterval
	StreamInterval = 10 * time.Millisecond
	defer func() { StreamInterval = old }()

	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	w := do(r, http.MethodPost, "/api/ambush/tasks", map[string]any{"codes": []string{"600001", "000001"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	id := strings.Split(strings.Split(w.Body.String(), `"task_id":"`)[1], `"`)[0]

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ambush/tasks/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var last service.TaskStatus
	for {
		var st service.TaskStatus
		if err := conn.ReadJSON(&st); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("read: %v", err)
		}
		last = st
	}
	if last.Status != service.TaskDone || len(last.Results) != 2 {
		t.Fatalf("last status = %+v", last)
	}
}

func TestStreamUnknownTask(t *testing.T) {
	r := newRouter(t)
	if w := do(r, http.MethodGet, "/api/ambush/tasks/missing/ws", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
