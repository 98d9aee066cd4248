package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderBookLevel 订单簿档位
type OrderBookLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// OrderBook 订单簿快照
type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookLevel `json:"bids"`
	Asks   []OrderBookLevel `json:"asks"`
}

// BestBid 最优买价（十进制字符串），盘口为空返回 ""
func (b *OrderBook) BestBid() string {
	if b == nil || len(b.Bids) == 0 {
		return ""
	}
	return b.Bids[0].Price
}

// BestAsk 最优卖价（十进制字符串），盘口为空返回 ""
func (b *OrderBook) BestAsk() string {
	if b == nil || len(b.Asks) == 0 {
		return ""
	}
	return b.Asks[0].Price
}

// MidPrice 盘口中间价（仅用于展示，两边都有档位时才有值）
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == "" || ask == "" {
		return decimal.Zero, false
	}
	bd, err1 := ParseDecimal(bid)
	ad, err2 := ParseDecimal(ask)
	if err1 != nil || err2 != nil {
		return decimal.Zero, false
	}
	return bd.Add(ad).Div(decimal.NewFromInt(2)), true
}

// Trade 成交记录
type Trade struct {
	ID            int64  `json:"id"`
	OrderIDBuy    int64  `json:"orderIdBuy"`
	OrderIDSell   int64  `json:"orderIdSell"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	BaseCurrency  string `json:"baseCurrency"`
	QuoteCurrency string `json:"quoteCurrency"`
	Symbol        string `json:"symbol"`
	Timestamp     string `json:"timestamp"`
}

// ParseDecimal 解析十进制字符串
//
// 服务端所有价格/数量都以十进制字符串传输（绝不使用浮点），
// 客户端展示用算术必须经由这里，禁止 strconv.ParseFloat。
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("空的十进制字符串")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("非法十进制字符串 %q: %w", s, err)
	}
	return d, nil
}

// IsPositiveDecimal 字符串是否为合法且大于零的十进制数
func IsPositiveDecimal(s string) bool {
	d, err := ParseDecimal(s)
	return err == nil && d.IsPositive()
}
