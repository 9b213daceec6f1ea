package api

import (
	"errors"
	"net/http"
	"strconv"

	"AuctionSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CollectHandler 定向采集接口
type CollectHandler struct {
	targetedService *service.TargetedService
	logger          *logrus.Logger
}

// NewCollectHandler 创建 CollectHandler
func NewCollectHandler(targetedService *service.TargetedService, logger *logrus.Logger) *CollectHandler {
	return &CollectHandler{
		targetedService: targetedService,
		logger:          logger,
	}
}

// Collect 同步定向采集
// POST /api/collect  body: {make, model?, year_from?, year_to?, date_from, date_to, site?}
func (h *CollectHandler) Collect(c *gin.Context) {
	var req service.CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.targetedService.Collect(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Collect failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Check 存量检查（不触发上游调用）
// GET /api/collect/check?make=Toyota&model=Camry&date_from=2025-01-01&date_to=2025-06-01&site=1
func (h *CollectHandler) Check(c *gin.Context) {
	siteCode, _ := strconv.Atoi(c.Query("site"))
	yearFrom, _ := strconv.Atoi(c.Query("year_from"))
	yearTo, _ := strconv.Atoi(c.Query("year_to"))
	req := service.CollectRequest{
		Make:     c.Query("make"),
		Model:    c.Query("model"),
		YearFrom: yearFrom,
		YearTo:   yearTo,
		DateFrom: c.Query("date_from"),
		DateTo:   c.Query("date_to"),
		Site:     siteCode,
	}

	resp, err := h.targetedService.Check(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
