package domain

import (
	"time"
)

// MutationKind 变更请求类型
type MutationKind string

const (
	MutationPlaceOrder  MutationKind = "place_order"
	MutationCancelOrder MutationKind = "cancel_order"
	MutationDeposit     MutationKind = "deposit"
)

// MutationRequest 变更请求
//
// IdempotencyKey 由客户端生成，同一逻辑意图的重试必须复用同一个 key，
// 以便服务端去重。每次 Submit 都会原样转发，客户端不做本地去重。
type MutationRequest struct {
	Kind           MutationKind
	UserID         string
	IdempotencyKey string
	IssuedAt       time.Time

	// 按 Kind 生效的负载（只设置对应的一个）
	Place   *PlaceOrderPayload
	Cancel  *CancelOrderPayload
	Deposit *DepositPayload
}

// PlaceOrderPayload 下单负载
type PlaceOrderPayload struct {
	Type          OrderType `json:"type"`
	Side          OrderSide `json:"side"`
	BaseCurrency  string    `json:"baseCurrency"`
	QuoteCurrency string    `json:"quoteCurrency"`
	Price         *string   `json:"price,omitempty"` // LIMIT 必填；MARKET 必须省略
	Quantity      string    `json:"quantity"`
}

// Symbol 返回交易对（例如 BTC/USDT）
func (p *PlaceOrderPayload) Symbol() string {
	return p.BaseCurrency + "/" + p.QuoteCurrency
}

// CancelOrderPayload 撤单负载
type CancelOrderPayload struct {
	OrderID int64
	Symbol  string // 用于确定强制刷新的订单簿 key
}

// DepositPayload 充值负载
type DepositPayload struct {
	Currency string `json:"-"`
	Amount   string `json:"amount"`
}

// MutationStatus 变更状态机的离散状态
//
// 单次提交的状态迁移是单调的：Idle → Pending → {Succeeded | Failed}。
// 新的提交永远产生全新的状态对象，终态对象不会被复用。
type MutationStatus int

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSucceeded
	MutationFailed
)

func (s MutationStatus) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationPending:
		return "pending"
	case MutationSucceeded:
		return "succeeded"
	case MutationFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal 是否终态
func (s MutationStatus) Terminal() bool {
	return s == MutationSucceeded || s == MutationFailed
}
