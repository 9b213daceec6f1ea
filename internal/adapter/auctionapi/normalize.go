package auctionapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"AuctionSync/internal/model"

	"gorm.io/datatypes"
)

// NormalizeRow 把上游原始行转为统一的SaleRecord（站点差异只在这里抹平）。
// 站点编码非法时返回错误；价格/日期解析失败按零值兜底，不阻断整页入库。
func NormalizeRow(row model.AuctionAPIRow) (*model.SaleRecord, error) {
	site, err := model.ParseSite(row.Site)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(row.LotID) == "" {
		return nil, fmt.Errorf("lot_id为空")
	}

	rec := &model.SaleRecord{
		LotID:           strings.TrimSpace(row.LotID),
		Site:            site,
		VIN:             row.VIN,
		Year:            row.Year,
		Make:            row.Make,
		Model:           row.Model,
		Series:          row.Series,
		Odometer:        row.Odometer,
		PrimaryDamage:   row.PrimaryDamage,
		SecondaryDamage: row.SecondaryDamage,
		TitleStatus:     row.TitleStatus,
		HasKeys:         strings.EqualFold(strings.TrimSpace(row.HasKeys), "yes"),
		SaleStatus:      row.SaleStatus,
		PurchasePrice:   parsePrice(row.PurchasePrice),
		CurrentBid:      parsePrice(row.CurrentBid),
		Location:        row.Location,
	}

	if t, ok := parseSaleDate(row.SaleDate); ok {
		rec.SaleDate = &t
	}

	images := decodeImageList(row.LinkImgHD, site)
	jsonBytes, err := json.Marshal(images)
	if err != nil {
		jsonBytes = []byte("[]") // 兜底返回空数组
	}
	rec.ImageURLs = datatypes.JSON(jsonBytes)

	return rec, nil
}

// decodeImageList 解析高清图列表。
// copart 直接返回JSON数组；iaai 返回二次序列化的JSON字符串（字符串里再包一层JSON数组）。
// 任何解析失败都返回空列表而不是错误，下游拿到的形状恒定。
func decodeImageList(raw string, site model.Site) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []string{}
	}

	if site == model.SiteIAAI {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err == nil {
			raw = inner
		}
		// 解不出内层字符串时按原文尝试，有些批次iaai并未二次转义
	}

	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return []string{}
	}
	return urls
}

// parsePrice 价格字段为字符串且可能为空/带符号，非法值按0处理
func parsePrice(s string) float64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseSaleDate 上游日期可能是RFC3339也可能是YYYY-MM-DD
func parseSaleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
