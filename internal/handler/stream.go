package handler

import (
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fund-burying-backend/internal/service"
	"fund-burying-backend/internal/trace"
)

// StreamInterval 任务进度推送间隔
var StreamInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamTask WebSocket 推送任务进度，状态变化时发送，任务结束后关闭连接
func (h *Ambush) StreamTask(c *gin.Context) {
	taskID := c.Param("task_id")
	if _, ok := h.svc.TaskStatus(taskID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在或已过期"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		trace.Warn(c.Request.Context(), "Stream", "升级WebSocket失败: %v", err)
		return
	}
	defer conn.Close()

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(StreamInterval)
	defer ticker.Stop()
	var last *service.TaskStatus
	for {
		st, ok := h.svc.TaskStatus(taskID)
		if !ok {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "任务已过期"))
			return
		}
		if last == nil || !reflect.DeepEqual(*last, st) {
			if err := conn.WriteJSON(st); err != nil {
				return
			}
			last = &st
		}
		if st.Status == service.TaskDone || st.Status == service.TaskCanceled {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, st.Status))
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
