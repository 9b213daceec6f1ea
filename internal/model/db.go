package model

import (
	"time"

	"gorm.io/datatypes"
)

// SaleRecord 一条历史/在售拍卖成交记录。
// (lot_id, site) 全局唯一；入库只追加不覆盖，重复插入按冲突忽略处理。
type SaleRecord struct {
	ID              uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	LotID           string         `gorm:"column:lot_id;type:varchar(32);not null;uniqueIndex:uk_lot_site;comment:站点原生Lot编号"`
	Site            Site           `gorm:"column:site;type:smallint;not null;uniqueIndex:uk_lot_site;comment:站点：1=copart 2=iaai"`
	VIN             string         `gorm:"column:vin;type:varchar(32);index;comment:车架号"`
	Year            int            `gorm:"column:year;type:int;index;comment:车辆年份"`
	Make            string         `gorm:"column:make;type:varchar(64);index;not null;comment:品牌"`
	Model           string         `gorm:"column:model;type:varchar(64);index;comment:车型"`
	Series          string         `gorm:"column:series;type:varchar(64);comment:系列/配置"`
	Odometer        float64        `gorm:"column:odometer;type:numeric(12,1);comment:里程读数"`
	PrimaryDamage   string         `gorm:"column:primary_damage;type:varchar(64);comment:主要损伤"`
	SecondaryDamage string         `gorm:"column:secondary_damage;type:varchar(64);comment:次要损伤"`
	TitleStatus     string         `gorm:"column:title_status;type:varchar(64);comment:产权状态"`
	HasKeys         bool           `gorm:"column:has_keys;type:boolean;default:false;comment:是否带钥匙"`
	SaleStatus      string         `gorm:"column:sale_status;type:varchar(32);comment:销售状态"`
	SaleDate        *time.Time     `gorm:"column:sale_date;type:timestamp;index;comment:成交/开拍时间"`
	PurchasePrice   float64        `gorm:"column:purchase_price;type:numeric(12,2);comment:成交价"`
	CurrentBid      float64        `gorm:"column:current_bid;type:numeric(12,2);comment:当前出价"`
	Location        string         `gorm:"column:location;type:varchar(128);comment:拍卖场地"`
	ImageURLs       datatypes.JSON `gorm:"column:image_urls;type:jsonb;comment:高清图片列表"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime;index;comment:入库时间"`
}

// CollectionJob 一个品牌（可选车型）在单轮采集中的调度单元
type CollectionJob struct {
	ID               uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Make             string         `gorm:"column:make;type:varchar(64);not null;uniqueIndex:uk_job_make;comment:品牌"`
	Model            string         `gorm:"column:model;type:varchar(64);default:'';uniqueIndex:uk_job_make;comment:车型，空串表示全部"`
	YearFrom         int            `gorm:"column:year_from;type:int;comment:年份下界"`
	YearTo           int            `gorm:"column:year_to;type:int;comment:年份上界"`
	Priority         int            `gorm:"column:priority;type:int;default:100;comment:优先级，数字越小越优先"`
	LastCollected    *time.Time     `gorm:"column:last_collected;type:timestamp;comment:上次完成采集时间，空表示从未采集"`
	DiscoveredModels datatypes.JSON `gorm:"column:discovered_models;type:jsonb;comment:最近一次发现的车型列表"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime;comment:创建时间"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime;comment:更新时间"`
}

func (SaleRecord) TableName() string    { return "sale_records" }
func (CollectionJob) TableName() string { return "collection_jobs" }
