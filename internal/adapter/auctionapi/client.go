package auctionapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"AuctionSync/internal/config"
	"AuctionSync/internal/interfaces"
	"AuctionSync/internal/model"
	"AuctionSync/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

// Client 上游拍卖API客户端，实现 interfaces.AuctionSource
type Client struct {
	cfg        *config.UpstreamConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建上游API客户端
func NewClient(cfg *config.UpstreamConfig, logger *logrus.Logger) interfaces.AuctionSource {
	return &Client{
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

// FetchSales 拉取一页成交记录并规范化。
// 瞬时失败（网络错误/5xx）按配置重试一次；4xx不重试直接报错；
// success=false 或 data 为空返回空切片表示该查询已无更多数据。
func (c *Client) FetchSales(ctx context.Context, req interfaces.SalesRequest) ([]*model.SaleRecord, error) {
	apiResp, err := c.fetchWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	if !apiResp.Success || len(apiResp.Data) == 0 {
		return []*model.SaleRecord{}, nil
	}

	records := make([]*model.SaleRecord, 0, len(apiResp.Data))
	for _, row := range apiResp.Data {
		rec, err := NormalizeRow(row)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"lot_id": row.LotID,
				"site":   row.Site,
			}).Warn("上游记录规范化失败，跳过")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, req interfaces.SalesRequest) (*model.AuctionAPIResponse, error) {
	reqURL := c.buildURL(req)

	var lastErr error
	attempts := c.cfg.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		resp, err := c.doOnce(ctx, reqURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) {
			return nil, err // 4xx等确定性失败不重试
		}
		c.logger.WithError(err).WithField("page", req.Page).Warn("上游请求瞬时失败，准备重试")
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, reqURL string) (*model.AuctionAPIResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	if c.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("上游请求失败: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("上游返回%d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("上游返回%d", resp.StatusCode)
	}

	var apiResp model.AuctionAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("解析上游响应失败: %w", err)
	}
	return &apiResp, nil
}

func (c *Client) buildURL(req interfaces.SalesRequest) string {
	q := url.Values{}
	q.Set("make", req.Make)
	if req.Model != "" {
		q.Set("model", req.Model)
	}
	q.Set("site", strconv.Itoa(int(req.Site)))
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("per_page", strconv.Itoa(req.PageSize))
	if req.YearFrom > 0 {
		q.Set("year_from", strconv.Itoa(req.YearFrom))
	}
	if req.YearTo > 0 {
		q.Set("year_to", strconv.Itoa(req.YearTo))
	}
	if req.DateFrom != "" {
		q.Set("sale_date_from", req.DateFrom)
	}
	if req.DateTo != "" {
		q.Set("sale_date_to", req.DateTo)
	}
	return fmt.Sprintf("%s/sales?%s", c.cfg.BaseURL, q.Encode())
}

// retryableError 标记可重试的瞬时失败（网络错误、5xx）
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
