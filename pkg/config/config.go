package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	EngineURL     string        // 交易引擎 base URL（含 /api/v1）
	Symbol        string        // 当前交易对，例如 BTC/USDT
	UserFile      string        // 本地持久化用户标识的目录
	TradesLimit   int           // 最近成交拉取条数
	EvictionGrace time.Duration // 缓存驱逐宽限期

	// 各面板轮询间隔（沿用线上仪表盘的节奏）
	BalancesInterval  time.Duration
	OrdersInterval    time.Duration
	OrderBookInterval time.Duration
	TradesInterval    time.Duration

	PushURL   string // 推送通道 URL（为空则使用模拟监视器）
	DebugAddr string // expvar/pprof 监听地址（为空则不启动）

	LogLevel string
	LogFile  string
}

// ConfigFile 配置文件结构（YAML）
type ConfigFile struct {
	EngineURL     string `yaml:"engine_url"`
	Symbol        string `yaml:"symbol"`
	UserFile      string `yaml:"user_file"`
	TradesLimit   int    `yaml:"trades_limit"`
	EvictionGrace int    `yaml:"eviction_grace_seconds"`

	Intervals struct {
		BalancesMs  int `yaml:"balances_ms"`
		OrdersMs    int `yaml:"orders_ms"`
		OrderBookMs int `yaml:"orderbook_ms"`
		TradesMs    int `yaml:"trades_ms"`
	} `yaml:"intervals"`

	PushURL   string `yaml:"push_url"`
	DebugAddr string `yaml:"debug_addr"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

var globalConfig *Config

// Load 加载配置（优先级：环境变量 > 配置文件 > 默认值）。
// filePath 为空时只用环境变量和默认值。.env 存在时先行加载。
func Load(filePath string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	var cf ConfigFile
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg := &Config{
		EngineURL:     pick(os.Getenv("GODASH_ENGINE_URL"), cf.EngineURL, "http://localhost:8080/api/v1"),
		Symbol:        pick(os.Getenv("GODASH_SYMBOL"), cf.Symbol, "BTC/USDT"),
		UserFile:      pick(os.Getenv("GODASH_USER_FILE"), cf.UserFile, "data"),
		TradesLimit:   pickInt(os.Getenv("GODASH_TRADES_LIMIT"), cf.TradesLimit, 100),
		EvictionGrace: time.Duration(pickInt(os.Getenv("GODASH_EVICTION_GRACE"), cf.EvictionGrace, 30)) * time.Second,

		// 线上仪表盘节奏：订单簿 2s，成交 3s，余额/订单 5s
		BalancesInterval:  time.Duration(pickInt(os.Getenv("GODASH_BALANCES_MS"), cf.Intervals.BalancesMs, 5000)) * time.Millisecond,
		OrdersInterval:    time.Duration(pickInt(os.Getenv("GODASH_ORDERS_MS"), cf.Intervals.OrdersMs, 5000)) * time.Millisecond,
		OrderBookInterval: time.Duration(pickInt(os.Getenv("GODASH_ORDERBOOK_MS"), cf.Intervals.OrderBookMs, 2000)) * time.Millisecond,
		TradesInterval:    time.Duration(pickInt(os.Getenv("GODASH_TRADES_MS"), cf.Intervals.TradesMs, 3000)) * time.Millisecond,

		PushURL:   pick(os.Getenv("GODASH_PUSH_URL"), cf.PushURL, ""),
		DebugAddr: pick(os.Getenv("GODASH_DEBUG_ADDR"), cf.DebugAddr, ""),

		LogLevel: pick(os.Getenv("GODASH_LOG_LEVEL"), cf.LogLevel, "info"),
		LogFile:  pick(os.Getenv("GODASH_LOG_FILE"), cf.LogFile, ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

// Get 获取全局配置（必须先 Load）
func Get() *Config {
	return globalConfig
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.EngineURL == "" {
		return fmt.Errorf("engine_url 不能为空")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	for name, d := range map[string]time.Duration{
		"balances":  c.BalancesInterval,
		"orders":    c.OrdersInterval,
		"orderbook": c.OrderBookInterval,
		"trades":    c.TradesInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s 轮询间隔必须为正", name)
		}
	}
	return nil
}

// pick 返回第一个非空字符串
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// pickInt 依次尝试：环境变量字符串 > 文件值 > 默认值
func pickInt(envValue string, fileValue, def int) int {
	if envValue != "" {
		if n, err := strconv.Atoi(envValue); err == nil {
			return n
		}
	}
	if fileValue != 0 {
		return fileValue
	}
	return def
}
