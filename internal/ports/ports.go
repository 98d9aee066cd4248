package ports

import (
	"context"

	"github.com/dashbot/godash/internal/domain"
)

// Fetcher 按资源描述拉取一次最新值。
//
// NOTE: This interface is intentionally defined in a "neutral" package to avoid
// circular dependencies between services, infrastructure and the UI layer.
type Fetcher interface {
	Fetch(ctx context.Context, desc domain.ResourceDescriptor) (interface{}, error)
}

// EntryUpdateHandler 缓存条目更新回调（写入后同步调用）
type EntryUpdateHandler interface {
	OnEntryUpdate(ctx context.Context, id domain.ResourceID, entry domain.CacheEntry) error
}

// EntryUpdateHandlerFunc 函数适配器
type EntryUpdateHandlerFunc func(ctx context.Context, id domain.ResourceID, entry domain.CacheEntry) error

func (f EntryUpdateHandlerFunc) OnEntryUpdate(ctx context.Context, id domain.ResourceID, entry domain.CacheEntry) error {
	return f(ctx, id, entry)
}

// Refresher 计划外强制刷新入口（由变更执行器在成功后调用）
type Refresher interface {
	ForceRefresh(kind domain.ResourceKind, key string)
}

// ConnectionMonitor 推送通道连通性监视器。
//
// 目前仅供 UI 读取连接指示器，不驱动缓存失效。两种实现
// （固定延迟模拟、真实 WebSocket）满足同一契约，互换时
// 缓存/轮询/变更各层无需改动。
type ConnectionMonitor interface {
	Start(ctx context.Context) error
	Stop()
	IsConnected() bool
}
