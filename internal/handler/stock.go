package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fund-burying-backend/internal/stockdata"
)

// GetStocks 按代码或名称搜索股票
func GetStocks(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	stocks, err := stockdata.SearchStocks(c.Request.Context(), keyword)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "获取股票列表失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stocks})
}
