package engine

import (
	"context"
	"fmt"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/internal/ports"
)

// Fetcher 把资源描述翻译成对应的引擎端点调用
type Fetcher struct {
	client      *Client
	tradesLimit int
}

var _ ports.Fetcher = (*Fetcher)(nil)

// NewFetcher 创建 Fetcher；tradesLimit <= 0 时使用服务端默认值
func NewFetcher(client *Client, tradesLimit int) *Fetcher {
	return &Fetcher{client: client, tradesLimit: tradesLimit}
}

// Fetch 按资源类型分发到对应端点
//
// Balances/Orders 的 key 是用户 ID，OrderBook/Trades 的 key 是 symbol。
func (f *Fetcher) Fetch(ctx context.Context, desc domain.ResourceDescriptor) (interface{}, error) {
	switch desc.Kind {
	case domain.ResourceBalances:
		return f.client.ListBalances(ctx, desc.Key)
	case domain.ResourceOrders:
		return f.client.ListOrders(ctx, desc.Key)
	case domain.ResourceOrderBook:
		return f.client.GetOrderBook(ctx, desc.Key)
	case domain.ResourceTrades:
		return f.client.GetTrades(ctx, desc.Key, f.tradesLimit)
	default:
		return nil, fmt.Errorf("未知资源类型: %q", desc.Kind)
	}
}
