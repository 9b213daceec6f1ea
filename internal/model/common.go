package model

import (
	"fmt"
	"strings"
)

// Site 拍卖行站点枚举（上游API用小整数编码）
type Site int

const (
	SiteCopart Site = 1 // SiteA：Copart
	SiteIAAI   Site = 2 // SiteB：IAAI（images字段为序列化JSON，需要额外反序列化）
)

// AllSites 默认采集的全部站点
var AllSites = []Site{SiteCopart, SiteIAAI}

func (s Site) String() string {
	switch s {
	case SiteCopart:
		return "copart"
	case SiteIAAI:
		return "iaai"
	default:
		return fmt.Sprintf("site(%d)", int(s))
	}
}

// ParseSite 解析站点编码，非法值返回错误
func ParseSite(code int) (Site, error) {
	switch Site(code) {
	case SiteCopart, SiteIAAI:
		return Site(code), nil
	default:
		return 0, fmt.Errorf("非法站点编码: %d", code)
	}
}

// SubscriptionTier 订阅等级封闭枚举（避免散落的字符串比较）
type SubscriptionTier string

const (
	TierFreemium SubscriptionTier = "freemium"
	TierBasic    SubscriptionTier = "basic"
	TierGold     SubscriptionTier = "gold"
	TierPlatinum SubscriptionTier = "platinum"
	TierAdmin    SubscriptionTier = "admin"
)

// ParseTier 解析订阅等级，未知值按 freemium 兜底
func ParseTier(s string) SubscriptionTier {
	switch SubscriptionTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic
	case TierGold:
		return TierGold
	case TierPlatinum:
		return TierPlatinum
	case TierAdmin:
		return TierAdmin
	default:
		return TierFreemium
	}
}

// IsPrivileged 是否享受新鲜度优先策略（最新数据优先 + 1小时新鲜度检查）
func (t SubscriptionTier) IsPrivileged() bool {
	switch t {
	case TierGold, TierPlatinum, TierAdmin:
		return true
	default:
		return false
	}
}

// SearchQuery 一次逻辑查询的规范化键（字段顺序无关）
type SearchQuery struct {
	Make     string
	Model    string // 空串表示全部车型
	Site     Site
	YearFrom int
	YearTo   int
	DateFrom string // YYYY-MM-DD，可为空
	DateTo   string // YYYY-MM-DD，可为空
}

// Normalize 统一大小写与空白，保证相同语义的查询得到相同缓存键
func (q SearchQuery) Normalize() SearchQuery {
	q.Make = strings.ToLower(strings.TrimSpace(q.Make))
	q.Model = strings.ToLower(strings.TrimSpace(q.Model))
	if q.Model == "all" {
		q.Model = ""
	}
	return q
}

// CacheKey 规范化后的唯一键
func (q SearchQuery) CacheKey() string {
	n := q.Normalize()
	model := n.Model
	if model == "" {
		model = "all"
	}
	return fmt.Sprintf("%s|%s|%d|%d|%d|%s|%s", n.Make, model, int(n.Site), n.YearFrom, n.YearTo, n.DateFrom, n.DateTo)
}
