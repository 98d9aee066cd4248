package domain

import (
	"fmt"
	"time"
)

// ResourceKind 资源类型（每个仪表盘面板对应一种可轮询的服务端资源）
type ResourceKind string

const (
	ResourceBalances  ResourceKind = "balances"  // 钱包余额列表
	ResourceOrders    ResourceKind = "orders"    // 用户订单列表
	ResourceOrderBook ResourceKind = "orderbook" // 订单簿
	ResourceTrades    ResourceKind = "trades"    // 最近成交
)

// AllResourceKinds 返回所有已知资源类型（固定顺序，便于测试断言）
func AllResourceKinds() []ResourceKind {
	return []ResourceKind{ResourceBalances, ResourceOrders, ResourceOrderBook, ResourceTrades}
}

// ResourceDescriptor 资源订阅描述
//
// Kind + Key 唯一标识一个可缓存资源：
//   - Balances / Orders 的 Key 是用户 ID
//   - OrderBook / Trades 的 Key 是交易对 symbol（例如 BTC/USDT）
//
// 订阅创建后不可变。
type ResourceDescriptor struct {
	Kind     ResourceKind
	Key      string
	Interval time.Duration // 轮询间隔，必须 > 0
}

// Validate 检查描述是否合法
func (d ResourceDescriptor) Validate() error {
	switch d.Kind {
	case ResourceBalances, ResourceOrders, ResourceOrderBook, ResourceTrades:
	default:
		return fmt.Errorf("未知资源类型: %q", d.Kind)
	}
	if d.Key == "" {
		return fmt.Errorf("资源 key 不能为空")
	}
	if d.Interval <= 0 {
		return fmt.Errorf("轮询间隔必须为正: %v", d.Interval)
	}
	return nil
}

// ResourceID 资源唯一标识（map key）
type ResourceID struct {
	Kind ResourceKind
	Key  string
}

// ID 返回资源唯一标识
func (d ResourceDescriptor) ID() ResourceID {
	return ResourceID{Kind: d.Kind, Key: d.Key}
}

func (id ResourceID) String() string {
	return string(id.Kind) + ":" + id.Key
}

// CacheEntry 资源缓存条目（某个资源当前已知的最新状态）
//
// Value 为 nil 表示首次成功拉取之前的状态；LastError 保存最近一次
// 失败的错误类型，成功拉取后会被清空。
type CacheEntry struct {
	Value      interface{} // 最近一次成功拉取的值（nil = 尚无数据）
	FetchedAt  time.Time   // 最近一次写入完成时间（零值 = 尚未拉取）
	IsFetching bool        // 当前是否有拉取在途
	LastError  *Error      // 最近一次拉取失败的错误（nil = 无错误）
}

// HasValue 是否已有可展示的数据
func (e CacheEntry) HasValue() bool {
	return e.Value != nil
}

// Stale 当前值是否带有错误标记（数据可能过期）
func (e CacheEntry) Stale() bool {
	return e.LastError != nil
}
