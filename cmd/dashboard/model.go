package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/internal/ports"
	"github.com/dashbot/godash/internal/services"
	"github.com/dashbot/godash/pkg/config"
)

const orderbookDepth = 5 // 每侧显示的档位数

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	bidStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	askStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")) // 黄色：数据可能过期

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// tickMsg 界面刷新节拍
type tickMsg time.Time

// model 仪表盘状态：只持有缓存订阅句柄，所有数据来自缓存快照
type model struct {
	cache    *services.ResourceCache
	executor *services.MutationExecutor
	monitor  ports.ConnectionMonitor

	userID string
	symbol string

	subs map[domain.ResourceKind]*services.Subscription

	// 最近一次提交的变更（UI 展示其状态迁移）
	lastMutation *services.MutationState
	lastAction   string

	width int
}

// newModel 订阅四个面板资源并构造初始状态
func newModel(cache *services.ResourceCache, executor *services.MutationExecutor, monitor ports.ConnectionMonitor, cfg *config.Config, userID int64) (*model, error) {
	m := &model{
		cache:    cache,
		executor: executor,
		monitor:  monitor,
		userID:   fmt.Sprintf("%d", userID),
		symbol:   cfg.Symbol,
		subs:     make(map[domain.ResourceKind]*services.Subscription),
	}

	for _, kind := range domain.AllResourceKinds() {
		key := m.userID
		if kind == domain.ResourceOrderBook || kind == domain.ResourceTrades {
			key = cfg.Symbol
		}
		sub, err := cache.Subscribe(domain.ResourceDescriptor{
			Kind:     kind,
			Key:      key,
			Interval: intervalFor(cfg, kind),
		})
		if err != nil {
			return nil, err
		}
		m.subs[kind] = sub
	}
	return m, nil
}

func (m *model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			for _, sub := range m.subs {
				sub.Close()
			}
			return m, tea.Quit
		case "d":
			m.submit("充值 1000 USDT", domain.MutationRequest{
				Kind:           domain.MutationDeposit,
				UserID:         m.userID,
				IdempotencyKey: services.NewIdempotencyKey(),
				IssuedAt:       time.Now(),
				Deposit:        &domain.DepositPayload{Currency: domain.CurrencyUSDT, Amount: "1000"},
			})
		case "b":
			m.submitLimit(domain.OrderSideBuy)
		case "s":
			m.submitLimit(domain.OrderSideSell)
		case "c":
			m.submitCancel()
		}
		return m, nil

	case tickMsg:
		// 数据全部来自缓存快照，tick 只负责触发重绘
		return m, tickCmd()
	}
	return m, nil
}

// submit 提交变更并记录以便展示状态
func (m *model) submit(action string, req domain.MutationRequest) {
	m.lastAction = action
	m.lastMutation = m.executor.Submit(context.Background(), req)
}

// submitLimit 以盘口最优价挂一笔小额 LIMIT 单
func (m *model) submitLimit(side domain.OrderSide) {
	book, _ := m.orderBook()
	var price string
	if side == domain.OrderSideBuy {
		price = book.BestBid()
	} else {
		price = book.BestAsk()
	}
	if price == "" {
		price = "50000" // 盘口为空时的兜底挂价
	}
	base, quote := splitSymbol(m.symbol)
	p := price
	m.submit(fmt.Sprintf("LIMIT %s %s@%s", side, "0.01", price), domain.MutationRequest{
		Kind:           domain.MutationPlaceOrder,
		UserID:         m.userID,
		IdempotencyKey: services.NewIdempotencyKey(),
		IssuedAt:       time.Now(),
		Place: &domain.PlaceOrderPayload{
			Type:          domain.OrderTypeLimit,
			Side:          side,
			BaseCurrency:  base,
			QuoteCurrency: quote,
			Price:         &p,
			Quantity:      "0.01",
		},
	})
}

// submitCancel 撤掉第一笔未终态订单
func (m *model) submitCancel() {
	for _, o := range m.orders() {
		if o.Status.IsTerminal() {
			continue
		}
		m.submit(fmt.Sprintf("撤单 #%d", o.ID), domain.MutationRequest{
			Kind:           domain.MutationCancelOrder,
			UserID:         m.userID,
			IdempotencyKey: services.NewIdempotencyKey(),
			IssuedAt:       time.Now(),
			Cancel:         &domain.CancelOrderPayload{OrderID: o.ID, Symbol: o.Symbol},
		})
		return
	}
	m.lastAction = "没有可撤的订单"
	m.lastMutation = nil
}

// 缓存读取辅助

func (m *model) balances() []domain.WalletBalance {
	entry := m.subs[domain.ResourceBalances].Read()
	if v, ok := entry.Value.([]domain.WalletBalance); ok {
		return v
	}
	return nil
}

func (m *model) orders() []domain.Order {
	entry := m.subs[domain.ResourceOrders].Read()
	if v, ok := entry.Value.([]domain.Order); ok {
		return v
	}
	return nil
}

func (m *model) orderBook() (*domain.OrderBook, domain.CacheEntry) {
	entry := m.subs[domain.ResourceOrderBook].Read()
	if v, ok := entry.Value.(*domain.OrderBook); ok {
		return v, entry
	}
	return &domain.OrderBook{Symbol: m.symbol}, entry
}

func (m *model) trades() []domain.Trade {
	entry := m.subs[domain.ResourceTrades].Read()
	if v, ok := entry.Value.([]domain.Trade); ok {
		return v
	}
	return nil
}

func (m *model) View() string {
	var s strings.Builder

	conn := "离线"
	if m.monitor.IsConnected() {
		conn = "在线"
	}
	header := headerStyle.Render(fmt.Sprintf("%s | 用户 %s | 推送: %s", m.symbol, m.userID, conn))
	s.WriteString(header)
	s.WriteString("\n\n")

	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderBalances(),
		m.renderOrders(),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderOrderBook(),
		m.renderTrades(),
	)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))
	s.WriteString("\n\n")

	s.WriteString(m.renderMutation())
	s.WriteString("\n")
	s.WriteString("d 充值 | b 买入 | s 卖出 | c 撤单 | q 退出")
	return s.String()
}

// renderEntryStatus 面板数据状态行（在途/错误标记）
func renderEntryStatus(entry domain.CacheEntry) string {
	parts := make([]string, 0, 2)
	if entry.IsFetching {
		parts = append(parts, "刷新中")
	}
	if entry.Stale() {
		parts = append(parts, staleStyle.Render("数据可能过期: "+entry.LastError.Message))
	}
	if !entry.HasValue() && !entry.IsFetching {
		parts = append(parts, "等待首次拉取")
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n" + strings.Join(parts, " | ")
}

func (m *model) renderBalances() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("余额"))
	s.WriteString("\n")
	balances := m.balances()
	if len(balances) == 0 {
		s.WriteString("  --\n")
	}
	for _, b := range balances {
		s.WriteString(fmt.Sprintf("  %-5s %s\n", b.Currency, b.Balance))
	}
	s.WriteString(renderEntryStatus(m.subs[domain.ResourceBalances].Read()))
	return borderStyle.Render(s.String())
}

func (m *model) renderOrders() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("订单"))
	s.WriteString("\n")
	orders := m.orders()
	if len(orders) == 0 {
		s.WriteString("  --\n")
	}
	shown := 0
	for _, o := range orders {
		if shown >= 8 {
			break
		}
		price := "MKT"
		if o.Price != nil {
			price = *o.Price
		}
		line := fmt.Sprintf("  #%-4d %-4s %-6s %s @ %s [%s]\n",
			o.ID, o.Side, o.Type, o.Quantity, price, o.Status)
		if o.Side == domain.OrderSideBuy {
			s.WriteString(bidStyle.Render(line))
		} else {
			s.WriteString(askStyle.Render(line))
		}
		shown++
	}
	s.WriteString(renderEntryStatus(m.subs[domain.ResourceOrders].Read()))
	return borderStyle.Render(s.String())
}

func (m *model) renderOrderBook() string {
	book, entry := m.orderBook()

	var s strings.Builder
	s.WriteString(titleStyle.Render("订单簿 " + book.Symbol))
	s.WriteString("\n")

	s.WriteString(askStyle.Render("卖单"))
	s.WriteString("\n")
	if len(book.Asks) == 0 {
		s.WriteString("  --\n")
	}
	// 卖侧价低在前，倒序打印让最优价贴近中间价
	asks := book.Asks
	if len(asks) > orderbookDepth {
		asks = asks[:orderbookDepth]
	}
	for i := len(asks) - 1; i >= 0; i-- {
		s.WriteString(fmt.Sprintf("  %12s  %12s\n", asks[i].Price, asks[i].Quantity))
	}

	if mid, ok := book.MidPrice(); ok {
		s.WriteString(titleStyle.Render(fmt.Sprintf("  中间价 %s\n", mid.StringFixed(2))))
	} else {
		s.WriteString("  中间价 --\n")
	}

	s.WriteString(bidStyle.Render("买单"))
	s.WriteString("\n")
	if len(book.Bids) == 0 {
		s.WriteString("  --\n")
	}
	bids := book.Bids
	if len(bids) > orderbookDepth {
		bids = bids[:orderbookDepth]
	}
	for _, b := range bids {
		s.WriteString(fmt.Sprintf("  %12s  %12s\n", b.Price, b.Quantity))
	}

	s.WriteString(renderEntryStatus(entry))
	return borderStyle.Render(s.String())
}

func (m *model) renderTrades() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("最近成交"))
	s.WriteString("\n")
	trades := m.trades()
	if len(trades) == 0 {
		s.WriteString("  --\n")
	}
	shown := 0
	for _, t := range trades {
		if shown >= 6 {
			break
		}
		s.WriteString(fmt.Sprintf("  %s  %s @ %s\n", t.Timestamp, t.Quantity, t.Price))
		shown++
	}
	s.WriteString(renderEntryStatus(m.subs[domain.ResourceTrades].Read()))
	return borderStyle.Render(s.String())
}

// renderMutation 最近一次变更的状态行
func (m *model) renderMutation() string {
	if m.lastAction == "" {
		return ""
	}
	if m.lastMutation == nil {
		return m.lastAction
	}
	switch m.lastMutation.Status() {
	case domain.MutationPending:
		return fmt.Sprintf("%s: 处理中...", m.lastAction)
	case domain.MutationSucceeded:
		return okStyle.Render(fmt.Sprintf("%s: 成功", m.lastAction))
	case domain.MutationFailed:
		_, err := m.lastMutation.Result()
		return failStyle.Render(fmt.Sprintf("%s: 失败 (%v)", m.lastAction, err))
	}
	return m.lastAction
}

// splitSymbol 把 BTC/USDT 拆成基础币与计价币
func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol, domain.CurrencyUSDT
	}
	return parts[0], parts[1]
}
