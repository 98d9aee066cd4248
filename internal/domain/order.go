package domain

// Order 订单（服务端所有，客户端只读）
//
// 价格与数量一律使用十进制字符串传输，客户端不做任何就地修改，
// 展示用算术通过 ParseDecimal 完成。状态只能由服务端推进，
// 客户端仅能发起取消请求并以下一次拉取的结果为准。
type Order struct {
	ID                int64       `json:"id"`
	UserID            int64       `json:"userId"`
	Type              OrderType   `json:"type"`
	Side              OrderSide   `json:"side"`
	BaseCurrency      string      `json:"baseCurrency"`
	QuoteCurrency     string      `json:"quoteCurrency"`
	Symbol            string      `json:"symbol"`
	Price             *string     `json:"price"`           // LIMIT 单必填；MARKET 单为 null
	Quantity          string      `json:"quantity"`
	FilledQuantity    string      `json:"filledQuantity"`
	RemainingQuantity string      `json:"remainingQuantity"`
	Status            OrderStatus `json:"status"`
	CreatedAt         string      `json:"createdAt"`
	UpdatedAt         string      `json:"updatedAt"`
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus 订单状态（服务端状态机：OPEN → PARTIAL → FILLED，任意非终态可 → CANCELLED）
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal 是否为终态（FILLED/CANCELLED 之后服务端不允许任何状态迁移，
// 对终态订单的取消请求必须被拒绝）
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// IsTerminal 订单是否处于终态
func (o *Order) IsTerminal() bool {
	return o != nil && o.Status.IsTerminal()
}
