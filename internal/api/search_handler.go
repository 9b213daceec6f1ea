package api

import (
	"net/http"
	"strconv"

	"AuctionSync/internal/model"
	"AuctionSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SearchHandler 销售记录查询接口
type SearchHandler struct {
	searchService *service.SearchService
	logger        *logrus.Logger
}

// NewSearchHandler 创建 SearchHandler
func NewSearchHandler(searchService *service.SearchService, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		logger:        logger,
	}
}

// Search 查询接口
// GET /api/search?make=Toyota&model=Camry&site=1&year_from=2015&year_to=2022&date_from=2025-01-01&date_to=2025-06-01&page=1&page_size=25
// 订阅等级从 X-Subscription-Tier 头取（由上层认证中间件填充），缺省按 freemium
func (h *SearchHandler) Search(c *gin.Context) {
	mk := c.Query("make")
	if mk == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "make is required"})
		return
	}
	siteCode, _ := strconv.Atoi(c.Query("site"))
	site, err := model.ParseSite(siteCode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	yearFrom, _ := strconv.Atoi(c.Query("year_from"))
	yearTo, _ := strconv.Atoi(c.Query("year_to"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "25"))

	tier := model.ParseTier(c.GetHeader("X-Subscription-Tier"))

	q := model.SearchQuery{
		Make:     mk,
		Model:    c.Query("model"),
		Site:     site,
		YearFrom: yearFrom,
		YearTo:   yearTo,
		DateFrom: c.Query("date_from"),
		DateTo:   c.Query("date_to"),
	}

	result, err := h.searchService.Search(c.Request.Context(), q, page, pageSize, tier)
	if err != nil {
		h.logger.WithError(err).Error("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
