package handler

import (
	"github.com/gin-gonic/gin"

	"fund-burying-backend/internal/trace"
)

// TraceMiddleware 沿用请求头中的 X-Trace-Id，没有则生成，并回写到响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := trace.WithTraceID(c.Request.Context(), c.GetHeader(trace.Header))
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.Header, trace.TraceID(ctx))
		c.Next()
	}
}
