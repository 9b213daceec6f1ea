package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`    // 服务器配置
	Database  DatabaseConfig  `mapstructure:"database"`  // PostgreSQL配置
	Upstream  UpstreamConfig  `mapstructure:"upstream"`  // 上游拍卖API配置
	Collector CollectorConfig `mapstructure:"collector"` // 采集调度配置
	Cache     CacheConfig     `mapstructure:"cache"`     // 缓存/新鲜度配置
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`  // 批量分析配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// DatabaseConfig PostgreSQL数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// UpstreamConfig 上游拍卖API配置
type UpstreamConfig struct {
	BaseURL    string `mapstructure:"base_url"`    // API基础地址
	AuthToken  string `mapstructure:"auth_token"`  // 认证Token
	Proxy      string `mapstructure:"proxy"`       // 代理地址
	Timeout    int    `mapstructure:"timeout"`     // 单次请求超时（秒）
	RetryCount int    `mapstructure:"retry_count"` // 瞬时失败重试次数（4xx不重试）
}

// CollectorConfig 采集调度配置
type CollectorConfig struct {
	BackgroundEnabled bool          `mapstructure:"background_enabled"` // 后台循环开关（默认关闭，手动触发为主）
	WindowDays        int           `mapstructure:"window_days"`        // 滚动采集窗口（天）
	YearFrom          int           `mapstructure:"year_from"`          // 默认年份下界
	PageSize          int           `mapstructure:"page_size"`          // 分页大小，必须等于上游上限25
	ModelCap          int           `mapstructure:"model_cap"`          // 车型发现上限
	RecollectAfter    time.Duration `mapstructure:"recollect_after"`    // 同一任务重新采集间隔
	JobInterval       time.Duration `mapstructure:"job_interval"`       // 后台循环两次任务之间的休眠
	InterPageDelay    time.Duration `mapstructure:"inter_page_delay"`   // 翻页间隔（上游限流礼貌性延迟）
	InterModelDelay   time.Duration `mapstructure:"inter_model_delay"`  // 车型间隔
	InterSiteDelay    time.Duration `mapstructure:"inter_site_delay"`   // 站点间隔
}

// CacheConfig 缓存/新鲜度配置
type CacheConfig struct {
	FreshTTL time.Duration `mapstructure:"fresh_ttl"` // 特权等级视为"新鲜"的时间窗口
}

// AnalyzerConfig 批量分析配置
type AnalyzerConfig struct {
	ChunkedThreshold   int     `mapstructure:"chunked_threshold"`   // 分块策略门槛（行数）
	StreamingThreshold int     `mapstructure:"streaming_threshold"` // 流式策略门槛（行数）
	MemoryThreshold    float64 `mapstructure:"memory_threshold"`    // 内存占用率门槛
	ChunkSize          int     `mapstructure:"chunk_size"`          // 分块策略单块行数
	MinBatchSize       int     `mapstructure:"min_batch_size"`      // 流式窗口下限
	TopMakes           int     `mapstructure:"top_makes"`           // 每块统计的高频品牌数
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	viper.SetTypeByDefaultValue(true)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults 采集/分析的产品常量默认值，config.yaml 可按环境覆盖
func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("collector.window_days", 150)
	viper.SetDefault("collector.year_from", 2012)
	viper.SetDefault("collector.page_size", 25)
	viper.SetDefault("collector.model_cap", 50)
	viper.SetDefault("collector.recollect_after", 24*time.Hour)
	viper.SetDefault("collector.job_interval", time.Minute)
	viper.SetDefault("collector.inter_page_delay", 2*time.Second)
	viper.SetDefault("collector.inter_model_delay", 3*time.Second)
	viper.SetDefault("collector.inter_site_delay", 5*time.Second)
	viper.SetDefault("cache.fresh_ttl", time.Hour)
	viper.SetDefault("upstream.timeout", 30)
	viper.SetDefault("upstream.retry_count", 1)
	viper.SetDefault("analyzer.chunked_threshold", 15000)
	viper.SetDefault("analyzer.streaming_threshold", 50000)
	viper.SetDefault("analyzer.memory_threshold", 0.85)
	viper.SetDefault("analyzer.chunk_size", 1000)
	viper.SetDefault("analyzer.min_batch_size", 500)
	viper.SetDefault("analyzer.top_makes", 5)
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AUCTION_API_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("AUCTION_API_TOKEN"); v != "" {
		cfg.Upstream.AuthToken = v
	}
	if v := os.Getenv("AUCTION_API_PROXY"); v != "" {
		cfg.Upstream.Proxy = v
	}
}
