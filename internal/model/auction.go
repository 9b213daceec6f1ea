package model

// AuctionAPIResponse 上游拍卖数据API统一返回结构。
// success=false 或 data 为空都表示该查询已无更多数据。
type AuctionAPIResponse struct {
	Success bool            `json:"success"`
	Data    []AuctionAPIRow `json:"data"`
}

// AuctionAPIRow 上游返回的单条拍卖记录（两个站点字段已对齐，仅images编码不同）
type AuctionAPIRow struct {
	LotID           string  `json:"lot_id"`           // 站点原生Lot编号
	Site            int     `json:"site"`             // 站点编码：1=copart 2=iaai
	VIN             string  `json:"vin"`              // 车架号
	Year            int     `json:"year"`             // 年份
	Make            string  `json:"make"`             // 品牌
	Model           string  `json:"model"`            // 车型
	Series          string  `json:"series"`           // 系列/配置
	Odometer        float64 `json:"odometer"`         // 里程
	PrimaryDamage   string  `json:"damage_pr"`        // 主要损伤
	SecondaryDamage string  `json:"damage_sec"`       // 次要损伤
	TitleStatus     string  `json:"document"`         // 产权状态
	HasKeys         string  `json:"keys"`             // 是否带钥匙（"yes"/"no"）
	SaleStatus      string  `json:"status"`           // 销售状态
	SaleDate        string  `json:"sale_date"`        // 成交时间（RFC3339或YYYY-MM-DD）
	PurchasePrice   string  `json:"purchase_price"`   // 成交价（字符串，可能为空或非数字）
	CurrentBid      string  `json:"current_bid"`      // 当前出价
	Location        string  `json:"location"`         // 场地
	LinkImgHD       string  `json:"link_img_hd"`      // 高清图列表：copart为JSON数组，iaai为二次序列化的JSON字符串
	LinkImgSmall    string  `json:"link_img_small"`   // 缩略图列表
}
