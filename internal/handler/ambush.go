package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fund-burying-backend/internal/analyzer"
	"fund-burying-backend/internal/service"
	"fund-burying-backend/internal/store"
	"fund-burying-backend/internal/trace"
)

// Ambush 埋伏分析接口
type Ambush struct {
	svc *service.Service
}

func NewAmbush(svc *service.Service) *Ambush {
	return &Ambush{svc: svc}
}

// Register 注册 /ambush 路由
func (h *Ambush) Register(r gin.IRouter) {
	g := r.Group("/ambush")
	g.GET("/modules", h.Modules)
	g.POST("/analyze", h.Analyze)
	g.GET("/analyze/:code", h.AnalyzeCode)
	g.GET("/history/:code", h.History)
	g.GET("/records/:id", h.Record)
	g.GET("/patterns", h.Patterns)
	g.PUT("/patterns/:name", h.UpsertPattern)
	g.DELETE("/patterns/:name", h.DeletePattern)
	g.POST("/tasks", h.CreateTask)
	g.GET("/tasks/:task_id", h.GetTask)
	g.DELETE("/tasks/:task_id", h.CancelTask)
	g.GET("/tasks/:task_id/ws", h.StreamTask)
}

// writeError 配置与参数错误 400，数据不足 422，不存在 404，其余 500
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, analyzer.ErrInvalidConfig), errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, analyzer.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoStore):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		trace.Error(c.Request.Context(), "Handler", "%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Modules 模块列表、权重与默认配置
func (h *Ambush) Modules(c *gin.Context) {
	modules, err := h.svc.Modules()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": modules})
}

// Analyze 单只股票分析，请求体可内联日线、基本信息与市场快照
func (h *Ambush) Analyze(c *gin.Context) {
	var req service.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	h.analyze(c, req)
}

// AnalyzeCode GET 形式：/analyze/600519?only=fund_flow,main_force&disable=market_environment&days=120
func (h *Ambush) AnalyzeCode(c *gin.Context) {
	req := service.AnalyzeRequest{
		Code:     c.Param("code"),
		Only:     splitList(c.Query("only")),
		Disabled: splitList(c.Query("disable")),
		NoCache:  c.Query("refresh") == "1",
	}
	if v := c.Query("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days 必须为正整数"})
			return
		}
		req.Days = days
	}
	if v := c.Query("similar"); v != "" {
		req.SimilarTopK, _ = strconv.Atoi(v)
	}
	h.analyze(c, req)
}

func (h *Ambush) analyze(c *gin.Context, req service.AnalyzeRequest) {
	resp, err := h.svc.AnalyzeStock(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History 某只股票的历史分析
func (h *Ambush) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	records, err := h.svc.History(c.Request.Context(), c.Param("code"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

// Record 单条历史（含完整结果）
func (h *Ambush) Record(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id 格式错误"})
		return
	}
	rec, err := h.svc.Record(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Patterns 吸筹形态库
func (h *Ambush) Patterns(c *gin.Context) {
	patterns, err := h.svc.Patterns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": patterns})
}

// UpsertPattern 名称取自路径
func (h *Ambush) UpsertPattern(c *gin.Context) {
	var p analyzer.AccumulationPattern
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	p.Name = c.Param("name")
	if err := h.svc.UpsertPattern(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Ambush) DeletePattern(c *gin.Context) {
	if err := h.svc.DeletePattern(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createTaskRequest struct {
	Codes     []string               `json:"codes"`
	RequestID string                 `json:"request_id"`
	Options   service.AnalyzeRequest `json:"options"`
}

// CreateTask 创建批量扫描任务；新建返回 202，重复 request_id 返回 200
func (h *Ambush) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("X-Request-Id")
	}
	status, created, err := h.svc.CreateTask(req.Codes, req.Options, req.RequestID)
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusAccepted
	}
	c.JSON(code, status)
}

func (h *Ambush) GetTask(c *gin.Context) {
	status, ok := h.svc.TaskStatus(c.Param("task_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在或已过期"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Ambush) CancelTask(c *gin.Context) {
	status, ok := h.svc.CancelTask(c.Param("task_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在或已过期"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
