package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/pkg/ratelimit"
)

var log = logrus.WithField("component", "engine")

// Client 交易引擎 REST 客户端（base path /api/v1）
//
// 只消费请求/响应契约，撮合、账务、订单生命周期全部由服务端执行。
// GET 请求在传输错误或 5xx 时自动重试；变更请求（POST）绝不自动重试，
// 重试是否发生由调用方决定（复用同一幂等键）。
type Client struct {
	rc          *resty.Client
	rateLimiter *ratelimit.Manager
}

// NewClient 创建引擎客户端
func NewClient(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 只重试只读请求：变更请求的重试语义归调用方（幂等键）
			if resp == nil || resp.Request == nil {
				return false
			}
			if resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() >= 500
		})

	return &Client{
		rc:          rc,
		rateLimiter: ratelimit.NewManager(),
	}
}

// engineError 服务端错误响应体
type engineError struct {
	Error string `json:"error"`
}

// mapError 将 HTTP 响应/传输错误映射为 domain.Error
func mapError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.NewNetworkError(op, errors.Wrap(err, "transport"))
	}
	if resp.IsSuccess() {
		return nil
	}

	msg := op
	var body engineError
	if jerr := json.Unmarshal(resp.Body(), &body); jerr == nil && body.Error != "" {
		msg = fmt.Sprintf("%s: %s", op, body.Error)
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusNotFound:
		return domain.NewNotFoundError(msg)
	case code == http.StatusConflict:
		return domain.NewConflictError(msg, domain.ErrOrderTerminal)
	case code >= 400 && code < 500:
		// 服务端拒绝的业务性失败：终态撤单/余额不足按冲突处理
		if strings.Contains(msg, "terminal") || strings.Contains(msg, "insufficient") ||
			strings.Contains(msg, "cancel") && strings.Contains(msg, "FILLED") {
			return domain.NewConflictError(msg, nil)
		}
		return &domain.Error{Kind: domain.ErrKindValidation, Message: msg}
	default:
		return domain.NewNetworkError(msg, errors.Errorf("http %d", code))
	}
}

func (c *Client) req(ctx context.Context, class string) *resty.Request {
	if err := c.rateLimiter.Wait(ctx, class); err != nil {
		log.Warnf("限流等待被取消: %v", err)
	}
	return c.rc.R().SetContext(ctx)
}

// CreateUser 创建用户（一次性引导）
func (c *Client) CreateUser(ctx context.Context, email, name string) (*domain.User, error) {
	var out domain.User
	resp, err := c.req(ctx, ratelimit.ClassWallet).
		SetBody(map[string]string{"email": email, "name": name}).
		SetResult(&out).
		Post("/users")
	if err := mapError("create user", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deposit 充值
func (c *Client) Deposit(ctx context.Context, userID, currency, amount, idempotencyKey string) (*domain.WalletBalance, error) {
	var out domain.WalletBalance
	resp, err := c.req(ctx, ratelimit.ClassWallet).
		SetQueryParam("userId", userID).
		SetQueryParam("currency", currency).
		SetBody(map[string]string{"amount": amount, "idempotencyKey": idempotencyKey}).
		SetResult(&out).
		Post("/wallets/deposit")
	if err := mapError("deposit", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBalances 查询全部余额（轮询）
func (c *Client) ListBalances(ctx context.Context, userID string) ([]domain.WalletBalance, error) {
	var out []domain.WalletBalance
	resp, err := c.req(ctx, ratelimit.ClassWallet).
		SetQueryParam("userId", userID).
		SetResult(&out).
		Get("/wallets/balances")
	if err := mapError("list balances", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance 查询单币种余额
func (c *Client) GetBalance(ctx context.Context, userID, currency string) (*domain.WalletBalance, error) {
	var out domain.WalletBalance
	resp, err := c.req(ctx, ratelimit.ClassWallet).
		SetQueryParam("userId", userID).
		SetQueryParam("currency", currency).
		SetResult(&out).
		Get("/wallets/balance")
	if err := mapError("get balance", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceOrder 下单
func (c *Client) PlaceOrder(ctx context.Context, userID string, p *domain.PlaceOrderPayload, idempotencyKey string) (*domain.Order, error) {
	body := map[string]interface{}{
		"type":          p.Type,
		"side":          p.Side,
		"baseCurrency":  p.BaseCurrency,
		"quoteCurrency": p.QuoteCurrency,
		"quantity":      p.Quantity,
	}
	if p.Price != nil {
		body["price"] = *p.Price
	}
	if idempotencyKey != "" {
		body["idempotencyKey"] = idempotencyKey
	}

	var out domain.Order
	resp, err := c.req(ctx, ratelimit.ClassOrders).
		SetQueryParam("userId", userID).
		SetBody(body).
		SetResult(&out).
		Post("/orders")
	if err := mapError("place order", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder 撤单（终态订单会被服务端拒绝，映射为 Conflict）
func (c *Client) CancelOrder(ctx context.Context, userID string, orderID int64) (*domain.Order, error) {
	var out domain.Order
	resp, err := c.req(ctx, ratelimit.ClassOrders).
		SetQueryParam("userId", userID).
		SetResult(&out).
		Post("/orders/" + strconv.FormatInt(orderID, 10) + "/cancel")
	if err := mapError("cancel order", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder 查询单笔订单
func (c *Client) GetOrder(ctx context.Context, userID string, orderID int64) (*domain.Order, error) {
	var out domain.Order
	resp, err := c.req(ctx, ratelimit.ClassOrders).
		SetQueryParam("userId", userID).
		SetResult(&out).
		Get("/orders/" + strconv.FormatInt(orderID, 10))
	if err := mapError("get order", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders 查询用户全部订单（轮询）
func (c *Client) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	var out []domain.Order
	resp, err := c.req(ctx, ratelimit.ClassOrders).
		SetQueryParam("userId", userID).
		SetResult(&out).
		Get("/orders")
	if err := mapError("list orders", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrderBook 查询订单簿（轮询）
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	var out domain.OrderBook
	resp, err := c.req(ctx, ratelimit.ClassMarket).
		SetResult(&out).
		Get("/market/orderbook/" + symbolPath(symbol))
	if err := mapError("get orderbook", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrades 查询最近成交（轮询）
func (c *Client) GetTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.Trade
	resp, err := c.req(ctx, ratelimit.ClassMarket).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		Get("/market/trades/" + symbolPath(symbol))
	if err := mapError("get trades", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// symbolPath symbol 中的斜杠不能按路径分隔符处理（BTC/USDT → BTC-USDT）
func symbolPath(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}
