package interfaces

import (
	"context"

	"AuctionSync/internal/model"
)

// SalesRequest 一次上游分页查询的全部参数
type SalesRequest struct {
	Make     string
	Model    string // 空串表示不按车型过滤
	Site     model.Site
	Page     int
	PageSize int // 上游上限25，必须与之一致
	YearFrom int
	YearTo   int
	DateFrom string // YYYY-MM-DD
	DateTo   string // YYYY-MM-DD
}

// AuctionSource 上游拍卖数据API的核心契约。
// 返回已规范化的SaleRecord（站点差异在适配器内抹平）；
// 空切片表示该查询已无更多数据。分页顺序确定，但与sale_date无固定关系。
type AuctionSource interface {
	FetchSales(ctx context.Context, req SalesRequest) ([]*model.SaleRecord, error)
}
