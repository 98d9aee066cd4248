// mockengine 是本地开发用的内存版交易引擎替身。
//
// 只实现仪表盘消费的请求/响应契约：充值入账、LIMIT 单挂入盘口、
// MARKET 单按对手价立即成交、终态订单拒绝撤单。没有真实撮合，
// 不做结算，重启即清空。
package main

import (
	"flag"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/pkg/logger"
)

type state struct {
	mu          sync.Mutex
	nextUserID  int64
	nextOrderID int64
	nextTradeID int64
	users       map[int64]*domain.User
	balances    map[int64]map[string]decimal.Decimal // userID -> currency -> balance
	orders      map[int64]*domain.Order
	trades      map[string][]domain.Trade // symbol -> trade tape
	depositKeys map[string]*domain.WalletBalance
	orderKeys   map[string]*domain.Order
}

func newState() *state {
	return &state{
		users:       make(map[int64]*domain.User),
		balances:    make(map[int64]map[string]decimal.Decimal),
		orders:      make(map[int64]*domain.Order),
		trades:      make(map[string][]domain.Trade),
		depositKeys: make(map[string]*domain.WalletBalance),
		orderKeys:   make(map[string]*domain.Order),
	}
}

func main() {
	addr := flag.String("addr", ":8080", "监听地址")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(err)
	}

	s := newState()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/users", s.createUser)
		v1.POST("/wallets/deposit", s.deposit)
		v1.GET("/wallets/balances", s.listBalances)
		v1.GET("/wallets/balance", s.getBalance)
		v1.POST("/orders", s.placeOrder)
		v1.POST("/orders/:id/cancel", s.cancelOrder)
		v1.GET("/orders/:id", s.getOrder)
		v1.GET("/orders", s.listOrders)
		v1.GET("/market/orderbook/:symbol", s.orderBook)
		v1.GET("/market/trades/:symbol", s.recentTrades)
	}

	logger.Infof("mockengine 监听 %s", *addr)
	if err := r.Run(*addr); err != nil {
		logger.Errorf("mockengine 退出: %v", err)
	}
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func (s *state) userFromQuery(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid userId")
		return 0, false
	}
	s.mu.Lock()
	_, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		fail(c, http.StatusNotFound, "user not found")
		return 0, false
	}
	return id, true
}

func (s *state) createUser(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		fail(c, http.StatusBadRequest, "email and name required")
		return
	}

	s.mu.Lock()
	s.nextUserID++
	u := &domain.User{
		ID:        s.nextUserID,
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.users[u.ID] = u
	s.balances[u.ID] = map[string]decimal.Decimal{
		domain.CurrencyUSDT: decimal.Zero,
		domain.CurrencyBTC:  decimal.Zero,
		domain.CurrencyETH:  decimal.Zero,
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, u)
}

func (s *state) deposit(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	currency := c.Query("currency")
	if !domain.ValidCurrency(currency) {
		fail(c, http.StatusBadRequest, "unsupported currency")
		return
	}
	var req struct {
		Amount         string `json:"amount"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		fail(c, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 幂等：同一 key 的重试返回首次结果，不重复入账
	if req.IdempotencyKey != "" {
		if prev, ok := s.depositKeys[req.IdempotencyKey]; ok {
			c.JSON(http.StatusOK, prev)
			return
		}
	}

	s.balances[userID][currency] = s.balances[userID][currency].Add(amount)
	resp := &domain.WalletBalance{
		WalletID: userID,
		Currency: currency,
		Balance:  s.balances[userID][currency].String(),
	}
	if req.IdempotencyKey != "" {
		s.depositKeys[req.IdempotencyKey] = resp
	}
	c.JSON(http.StatusOK, resp)
}

func (s *state) listBalances(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	s.mu.Lock()
	out := make([]domain.WalletBalance, 0, 3)
	for _, cur := range []string{domain.CurrencyUSDT, domain.CurrencyBTC, domain.CurrencyETH} {
		out = append(out, domain.WalletBalance{WalletID: userID, Currency: cur, Balance: s.balances[userID][cur].String()})
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *state) getBalance(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	currency := c.Query("currency")
	if !domain.ValidCurrency(currency) {
		fail(c, http.StatusBadRequest, "unsupported currency")
		return
	}
	s.mu.Lock()
	bal := s.balances[userID][currency]
	s.mu.Unlock()
	c.JSON(http.StatusOK, domain.WalletBalance{WalletID: userID, Currency: currency, Balance: bal.String()})
}

func (s *state) placeOrder(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	var req struct {
		Type           domain.OrderType `json:"type"`
		Side           domain.OrderSide `json:"side"`
		BaseCurrency   string           `json:"baseCurrency"`
		QuoteCurrency  string           `json:"quoteCurrency"`
		Price          *string          `json:"price"`
		Quantity       string           `json:"quantity"`
		IdempotencyKey string           `json:"idempotencyKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || !qty.IsPositive() {
		fail(c, http.StatusBadRequest, "quantity must be a positive decimal")
		return
	}
	symbol := req.BaseCurrency + "/" + req.QuoteCurrency

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prev, ok := s.orderKeys[req.IdempotencyKey]; ok {
			c.JSON(http.StatusOK, prev)
			return
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	s.nextOrderID++
	order := &domain.Order{
		ID:                s.nextOrderID,
		UserID:            userID,
		Type:              req.Type,
		Side:              req.Side,
		BaseCurrency:      req.BaseCurrency,
		QuoteCurrency:     req.QuoteCurrency,
		Symbol:            symbol,
		Price:             req.Price,
		Quantity:          qty.String(),
		FilledQuantity:    "0",
		RemainingQuantity: qty.String(),
		Status:            domain.OrderStatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	switch req.Type {
	case domain.OrderTypeLimit:
		if req.Price == nil {
			fail(c, http.StatusBadRequest, "price required for LIMIT order")
			return
		}
		price, perr := decimal.NewFromString(*req.Price)
		if perr != nil || !price.IsPositive() {
			fail(c, http.StatusBadRequest, "price must be a positive decimal")
			return
		}
		// 余额检查：买单锁定计价币，卖单锁定基础币
		if req.Side == domain.OrderSideBuy {
			cost := price.Mul(qty)
			if s.balances[userID][req.QuoteCurrency].LessThan(cost) {
				fail(c, http.StatusBadRequest, "insufficient balance")
				return
			}
			s.balances[userID][req.QuoteCurrency] = s.balances[userID][req.QuoteCurrency].Sub(cost)
		} else {
			if s.balances[userID][req.BaseCurrency].LessThan(qty) {
				fail(c, http.StatusBadRequest, "insufficient balance")
				return
			}
			s.balances[userID][req.BaseCurrency] = s.balances[userID][req.BaseCurrency].Sub(qty)
		}
		// 挂单：保持 OPEN，出现在盘口里（没有真实撮合）
	case domain.OrderTypeMarket:
		if req.Price != nil {
			fail(c, http.StatusBadRequest, "MARKET order must not carry a price")
			return
		}
		// 以盘口对手价立即全部成交；盘口为空则拒绝
		best, ok := s.bestOpposite(symbol, req.Side, order.ID)
		if !ok {
			fail(c, http.StatusBadRequest, "no liquidity for market order")
			return
		}
		if ferr := s.fillMarket(order, userID, req.Side, best, qty); ferr != "" {
			fail(c, http.StatusBadRequest, ferr)
			return
		}
	default:
		fail(c, http.StatusBadRequest, "unknown order type")
		return
	}

	s.orders[order.ID] = order
	if req.IdempotencyKey != "" {
		s.orderKeys[req.IdempotencyKey] = order
	}
	c.JSON(http.StatusOK, order)
}

// bestOpposite 盘口对手方最优价（买单取最低卖价，卖单取最高买价）
func (s *state) bestOpposite(symbol string, side domain.OrderSide, excludeID int64) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, o := range s.orders {
		if o.ID == excludeID || o.Symbol != symbol || o.Status != domain.OrderStatusOpen || o.Price == nil {
			continue
		}
		if (side == domain.OrderSideBuy && o.Side != domain.OrderSideSell) ||
			(side == domain.OrderSideSell && o.Side != domain.OrderSideBuy) {
			continue
		}
		p, err := decimal.NewFromString(*o.Price)
		if err != nil {
			continue
		}
		if !found || (side == domain.OrderSideBuy && p.LessThan(best)) || (side == domain.OrderSideSell && p.GreaterThan(best)) {
			best, found = p, true
		}
	}
	return best, found
}

// fillMarket 市价单立即全额成交并记一笔成交（简化：不消耗对手挂单）
func (s *state) fillMarket(order *domain.Order, userID int64, side domain.OrderSide, price, qty decimal.Decimal) string {
	cost := price.Mul(qty)
	if side == domain.OrderSideBuy {
		if s.balances[userID][order.QuoteCurrency].LessThan(cost) {
			return "insufficient balance"
		}
		s.balances[userID][order.QuoteCurrency] = s.balances[userID][order.QuoteCurrency].Sub(cost)
		s.balances[userID][order.BaseCurrency] = s.balances[userID][order.BaseCurrency].Add(qty)
	} else {
		if s.balances[userID][order.BaseCurrency].LessThan(qty) {
			return "insufficient balance"
		}
		s.balances[userID][order.BaseCurrency] = s.balances[userID][order.BaseCurrency].Sub(qty)
		s.balances[userID][order.QuoteCurrency] = s.balances[userID][order.QuoteCurrency].Add(cost)
	}

	ps := price.String()
	order.Price = nil
	order.Status = domain.OrderStatusFilled
	order.FilledQuantity = qty.String()
	order.RemainingQuantity = "0"

	s.nextTradeID++
	s.trades[order.Symbol] = append(s.trades[order.Symbol], domain.Trade{
		ID:            s.nextTradeID,
		OrderIDBuy:    order.ID,
		OrderIDSell:   order.ID,
		Price:         ps,
		Quantity:      qty.String(),
		BaseCurrency:  order.BaseCurrency,
		QuoteCurrency: order.QuoteCurrency,
		Symbol:        order.Symbol,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	return ""
}

func (s *state) cancelOrder(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid order id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.UserID != userID {
		fail(c, http.StatusNotFound, "order not found")
		return
	}
	if order.Status.IsTerminal() {
		fail(c, http.StatusConflict, "order already in terminal state")
		return
	}

	// 解锁剩余未成交部分对应的资金
	if order.Price != nil {
		if rem, rerr := decimal.NewFromString(order.RemainingQuantity); rerr == nil {
			price, _ := decimal.NewFromString(*order.Price)
			if order.Side == domain.OrderSideBuy {
				s.balances[userID][order.QuoteCurrency] = s.balances[userID][order.QuoteCurrency].Add(price.Mul(rem))
			} else {
				s.balances[userID][order.BaseCurrency] = s.balances[userID][order.BaseCurrency].Add(rem)
			}
		}
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	c.JSON(http.StatusOK, order)
}

func (s *state) getOrder(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid order id")
		return
	}
	s.mu.Lock()
	order, ok := s.orders[id]
	s.mu.Unlock()
	if !ok || order.UserID != userID {
		fail(c, http.StatusNotFound, "order not found")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *state) listOrders(c *gin.Context) {
	userID, ok := s.userFromQuery(c)
	if !ok {
		return
	}
	s.mu.Lock()
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

// normalizeSymbol 路径里的 BTC-USDT 还原为 BTC/USDT
func normalizeSymbol(raw string) string {
	return strings.ReplaceAll(raw, "-", "/")
}

func (s *state) orderBook(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))

	s.mu.Lock()
	defer s.mu.Unlock()

	book := domain.OrderBook{Symbol: symbol, Bids: []domain.OrderBookLevel{}, Asks: []domain.OrderBookLevel{}}
	levels := make(map[string]map[string]decimal.Decimal) // side -> price -> qty
	levels["bid"] = make(map[string]decimal.Decimal)
	levels["ask"] = make(map[string]decimal.Decimal)
	for _, o := range s.orders {
		if o.Symbol != symbol || o.Status != domain.OrderStatusOpen || o.Price == nil {
			continue
		}
		side := "bid"
		if o.Side == domain.OrderSideSell {
			side = "ask"
		}
		rem, err := decimal.NewFromString(o.RemainingQuantity)
		if err != nil {
			continue
		}
		levels[side][*o.Price] = levels[side][*o.Price].Add(rem)
	}
	book.Bids = sortedLevels(levels["bid"], true)
	book.Asks = sortedLevels(levels["ask"], false)
	c.JSON(http.StatusOK, book)
}

// sortedLevels 聚合档位排序：买侧价高在前，卖侧价低在前
func sortedLevels(m map[string]decimal.Decimal, desc bool) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(m))
	for price, qty := range m {
		out = append(out, domain.OrderBookLevel{Price: price, Quantity: qty.String()})
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			pi, _ := decimal.NewFromString(out[i].Price)
			pj, _ := decimal.NewFromString(out[j].Price)
			swap := pj.GreaterThan(pi)
			if !desc {
				swap = pj.LessThan(pi)
			}
			if swap {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (s *state) recentTrades(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	s.mu.Lock()
	tape := s.trades[symbol]
	// 最新在前
	out := make([]domain.Trade, 0, limit)
	for i := len(tape) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, tape[i])
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}
