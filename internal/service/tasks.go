package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"fund-burying-backend/internal/trace"
)

// 任务状态
const (
	TaskPending  = "pending"
	TaskRunning  = "running"
	TaskDone     = "done"
	TaskCanceled = "canceled"
)

const (
	taskTTL         = 30 * time.Minute
	maxTaskCodes    = 200
	maxRunningTasks = 3
)

// TaskStatus 批量扫描任务状态
type TaskStatus struct {
	TaskID    string       `json:"task_id"`
	Status    string       `json:"status"`
	Current   string       `json:"current_code,omitempty"`
	Done      int          `json:"done"`
	Total     int          `json:"total"`
	Results   []ScanResult `json:"results,omitempty"`
	Error     string       `json:"error,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type scanTask struct {
	id        string
	status    string
	requestID string
	current   string
	done      int
	total     int
	results   []ScanResult
	err       string
	cancel    context.CancelFunc
	expiresAt time.Time
}

type taskManager struct {
	svc        *Service
	mu         sync.Mutex
	tasks      map[string]*scanTask
	byRequest  map[string]string
	sem        chan struct{}
	now        func() time.Time
	background func() context.Context
}

func newTaskManager(svc *Service) *taskManager {
	return &taskManager{
		svc:        svc,
		tasks:      map[string]*scanTask{},
		byRequest:  map[string]string{},
		sem:        make(chan struct{}, maxRunningTasks),
		now:        time.Now,
		background: context.Background,
	}
}

// CreateTask 创建批量扫描任务；相同 requestID 在有效期内返回已有任务，created=false
func (s *Service) CreateTask(codes []string, tmpl AnalyzeRequest, requestID string) (TaskStatus, bool, error) {
	return s.tasks.create(codes, tmpl, requestID)
}

// TaskStatus 查询任务
func (s *Service) TaskStatus(taskID string) (TaskStatus, bool) {
	return s.tasks.get(taskID)
}

// CancelTask 取消任务，已结束的任务原样返回
func (s *Service) CancelTask(taskID string) (TaskStatus, bool) {
	return s.tasks.cancelTask(taskID)
}

func (m *taskManager) create(codes []string, tmpl AnalyzeRequest, requestID string) (TaskStatus, bool, error) {
	codes = dedupCodes(codes)
	if len(codes) == 0 {
		return TaskStatus{}, false, fmt.Errorf("%w: 请选择至少一只股票", ErrInvalidRequest)
	}
	if len(codes) > maxTaskCodes {
		return TaskStatus{}, false, fmt.Errorf("%w: 单个任务最多 %d 只股票", ErrInvalidRequest, maxTaskCodes)
	}
	requestID = strings.TrimSpace(requestID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked(now)
	if requestID != "" {
		if id, ok := m.byRequest[requestID]; ok {
			if t, ok := m.tasks[id]; ok {
				return t.snapshot(), false, nil
			}
			delete(m.byRequest, requestID)
		}
	}

	ctx, cancel := context.WithCancel(trace.WithTraceID(m.background(), ""))
	t := &scanTask{
		id:        newTaskID(),
		status:    TaskPending,
		requestID: requestID,
		total:     len(codes),
		cancel:    cancel,
		expiresAt: now.Add(taskTTL),
	}
	m.tasks[t.id] = t
	if requestID != "" {
		m.byRequest[requestID] = t.id
	}
	go m.run(ctx, t, codes, tmpl)
	return t.snapshot(), true, nil
}

func (m *taskManager) get(id string) (TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked(m.now())
	t, ok := m.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return t.snapshot(), true
}

func (m *taskManager) cancelTask(id string) (TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked(m.now())
	t, ok := m.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	if t.status == TaskPending || t.status == TaskRunning {
		t.status = TaskCanceled
		t.err = "任务已取消"
		t.current = ""
		t.cancel()
		if t.requestID != "" {
			delete(m.byRequest, t.requestID)
		}
	}
	return t.snapshot(), true
}

func (m *taskManager) run(ctx context.Context, t *scanTask, codes []string, tmpl AnalyzeRequest) {
	defer t.cancel()
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-m.sem }()

	m.mu.Lock()
	if t.status == TaskPending {
		t.status = TaskRunning
	}
	m.mu.Unlock()
	trace.Info(ctx, "Task", "任务 %s 开始，共 %d 只股票", t.id, len(codes))

	results, err := m.svc.Scan(ctx, codes, tmpl, func(done int, code string) {
		m.mu.Lock()
		if t.status == TaskRunning {
			t.done = done
			t.current = code
		}
		m.mu.Unlock()
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	t.results = results
	if err != nil || t.status == TaskCanceled {
		t.status = TaskCanceled
		t.err = "任务已取消"
		t.current = ""
		t.done = len(results)
		trace.Info(ctx, "Task", "任务 %s 已取消，完成 %d/%d", t.id, len(results), len(codes))
		return
	}
	t.status = TaskDone
	t.done = len(codes)
	t.current = ""
	if t.requestID != "" {
		delete(m.byRequest, t.requestID)
	}
	trace.Info(ctx, "Task", "任务 %s 完成", t.id)
}

func (m *taskManager) cleanupExpiredLocked(now time.Time) {
	for id, t := range m.tasks {
		if now.After(t.expiresAt) {
			t.cancel()
			delete(m.tasks, id)
		}
	}
	for rid, tid := range m.byRequest {
		if _, ok := m.tasks[tid]; !ok {
			delete(m.byRequest, rid)
		}
	}
}

func (t *scanTask) snapshot() TaskStatus {
	out := TaskStatus{
		TaskID:    t.id,
		Status:    t.status,
		Current:   t.current,
		Done:      t.done,
		Total:     t.total,
		Error:     t.err,
		ExpiresAt: t.expiresAt,
	}
	if t.status == TaskDone || t.status == TaskCanceled {
		out.Results = append([]ScanResult(nil), t.results...)
	}
	return out
}

func dedupCodes(codes []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func newTaskID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
