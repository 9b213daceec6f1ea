package api

import (
	"net/http"

	"AuctionSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobHandler 采集任务管理接口
type JobHandler struct {
	collector *service.CollectorService
	logger    *logrus.Logger
}

// NewJobHandler 创建 JobHandler
func NewJobHandler(collector *service.CollectorService, logger *logrus.Logger) *JobHandler {
	return &JobHandler{
		collector: collector,
		logger:    logger,
	}
}

// RunOnce 手动触发一轮任务处理（后台循环默认关闭，实践中靠这里触发）
// POST /api/jobs/run
func (h *JobHandler) RunOnce(c *gin.Context) {
	result, err := h.collector.ProcessNextJob(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("RunOnce failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"message": "没有到期任务"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// List 任务列表
// GET /api/jobs
func (h *JobHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.collector.Jobs()})
}
