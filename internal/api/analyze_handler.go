package api

import (
	"net/http"
	"time"

	"AuctionSync/internal/model"
	"AuctionSync/internal/repository"
	"AuctionSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AnalyzeHandler 批量分析接口
type AnalyzeHandler struct {
	analyzer *service.AnalyzerService
	logger   *logrus.Logger
}

// NewAnalyzeHandler 创建 AnalyzeHandler
func NewAnalyzeHandler(analyzer *service.AnalyzerService, logger *logrus.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		analyzer: analyzer,
		logger:   logger,
	}
}

// analyzeRequest 分析请求体
type analyzeRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
	Depth    string `json:"depth"`     // standard / comprehensive
	RowCount int    `json:"row_count"` // 请求分析的行数
	Filter   struct {
		Make     string `json:"make"`
		Model    string `json:"model"`
		Site     int    `json:"site"`
		YearFrom int    `json:"year_from"`
		YearTo   int    `json:"year_to"`
		DateFrom string `json:"date_from"`
		DateTo   string `json:"date_to"`
	} `json:"filter"`
}

// Analyze 执行分析
// POST /api/analyze  body: {caller_id, depth, row_count, filter}
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := repository.RecordFilter{
		Make:     req.Filter.Make,
		Model:    req.Filter.Model,
		Site:     model.Site(req.Filter.Site),
		YearFrom: req.Filter.YearFrom,
		YearTo:   req.Filter.YearTo,
		DateFrom: req.Filter.DateFrom,
		DateTo:   req.Filter.DateTo,
	}

	start := time.Now()
	result, cached, err := h.analyzer.Process(c.Request.Context(), req.CallerID, req.Depth, req.RowCount, filter)
	if err != nil {
		h.logger.WithError(err).Error("Analyze failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":               result,
		"cached":             cached,
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
}

// Metrics 处理器运行指标
// GET /api/analyze/metrics
func (h *AnalyzeHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.analyzer.Metrics())
}
