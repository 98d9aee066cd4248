package services

import (
	"github.com/dashbot/godash/internal/domain"
)

// InvalidationCoordinator 变更类型 → 受影响资源类型的静态映射
//
// 规则表在启动时固定，之后只读，可被任意数量的变更执行器并发查询。
// 未知的变更类型返回空集而不是错误：未知变更不应留下过期数据的
// 隐患，但也不能让整条流水线崩溃。
type InvalidationCoordinator struct {
	rules map[domain.MutationKind][]domain.ResourceKind
}

// NewInvalidationCoordinator 创建带默认规则表的协调器：
//
//	PlaceOrder  → Orders, Balances, OrderBook
//	CancelOrder → Orders, Balances
//	Deposit     → Balances
func NewInvalidationCoordinator() *InvalidationCoordinator {
	return &InvalidationCoordinator{
		rules: map[domain.MutationKind][]domain.ResourceKind{
			domain.MutationPlaceOrder:  {domain.ResourceOrders, domain.ResourceBalances, domain.ResourceOrderBook},
			domain.MutationCancelOrder: {domain.ResourceOrders, domain.ResourceBalances},
			domain.MutationDeposit:     {domain.ResourceBalances},
		},
	}
}

// ResourcesAffectedBy 返回变更成功后必须强制刷新的资源类型集合（副本）
func (c *InvalidationCoordinator) ResourcesAffectedBy(kind domain.MutationKind) []domain.ResourceKind {
	kinds, ok := c.rules[kind]
	if !ok {
		return nil
	}
	out := make([]domain.ResourceKind, len(kinds))
	copy(out, kinds)
	return out
}
