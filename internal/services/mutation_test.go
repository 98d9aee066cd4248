package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/dashbot/godash/internal/domain"
)

// fakeEngine 可编程的假引擎端点
type fakeEngine struct {
	mu          sync.Mutex
	depositErr  error
	placeErr    error
	cancelErr   error
	depositHits int
	placeHits   int
	cancelHits  int
}

func (f *fakeEngine) Deposit(_ context.Context, userID, currency, amount, _ string) (*domain.WalletBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depositHits++
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	return &domain.WalletBalance{Currency: currency, Balance: amount}, nil
}

func (f *fakeEngine) PlaceOrder(_ context.Context, _ string, p *domain.PlaceOrderPayload, _ string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeHits++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &domain.Order{ID: 1, Status: domain.OrderStatusOpen, Quantity: p.Quantity}, nil
}

func (f *fakeEngine) CancelOrder(_ context.Context, _ string, orderID int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelHits++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &domain.Order{ID: orderID, Status: domain.OrderStatusCancelled}, nil
}

func (f *fakeEngine) hits() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depositHits, f.placeHits, f.cancelHits
}

// fakeRefresher 记录强制刷新调用
type fakeRefresher struct {
	mu    sync.Mutex
	calls []domain.ResourceID
}

func (f *fakeRefresher) ForceRefresh(kind domain.ResourceKind, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, domain.ResourceID{Kind: kind, Key: key})
}

func (f *fakeRefresher) snapshot() []domain.ResourceID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ResourceID, len(f.calls))
	copy(out, f.calls)
	return out
}

func newExecutorFixture() (*fakeEngine, *fakeRefresher, *MutationExecutor) {
	api := &fakeEngine{}
	refresher := &fakeRefresher{}
	executor := NewMutationExecutor(api, NewInvalidationCoordinator(), refresher)
	return api, refresher, executor
}

func placeRequest() domain.MutationRequest {
	price := "50000"
	return domain.MutationRequest{
		Kind:           domain.MutationPlaceOrder,
		UserID:         "7",
		IdempotencyKey: NewIdempotencyKey(),
		IssuedAt:       time.Now(),
		Place: &domain.PlaceOrderPayload{
			Type:          domain.OrderTypeLimit,
			Side:          domain.OrderSideBuy,
			BaseCurrency:  "BTC",
			QuoteCurrency: "USDT",
			Price:         &price,
			Quantity:      "0.5",
		},
	}
}

func waitTerminal(t *testing.T, state *MutationState) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-state.Done():
	case <-ctx.Done():
		t.Fatalf("mutation never reached terminal state")
	}
}

func TestMutationExecutor_ValidationFailureSkipsNetwork(t *testing.T) {
	api, refresher, executor := newExecutorFixture()

	req := placeRequest()
	req.Place.Quantity = "-1" // 前置校验必须拦下

	state := executor.Submit(context.Background(), req)
	// 校验失败同步落终态：Idle → Failed，不经过 Pending
	if state.Status() != domain.MutationFailed {
		t.Fatalf("expected immediate Failed, got %v", state.Status())
	}
	_, err := state.Result()
	if domain.KindOf(err) != domain.ErrKindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	d, p, c := api.hits()
	if d+p+c != 0 {
		t.Fatalf("validation failure must not reach the network")
	}
	if len(refresher.snapshot()) != 0 {
		t.Fatalf("validation failure must not trigger refresh")
	}
}

func TestMutationExecutor_MarketOrderWithPriceRejected(t *testing.T) {
	_, _, executor := newExecutorFixture()

	req := placeRequest()
	req.Place.Type = domain.OrderTypeMarket // price 仍然带着：必须拒绝

	state := executor.Submit(context.Background(), req)
	if state.Status() != domain.MutationFailed {
		t.Fatalf("expected Failed for MARKET order with price, got %v", state.Status())
	}
}

func TestMutationExecutor_SuccessTriggersExactRefreshSet(t *testing.T) {
	_, refresher, executor := newExecutorFixture()

	state := executor.Submit(context.Background(), placeRequest())
	waitTerminal(t, state)

	if state.Status() != domain.MutationSucceeded {
		t.Fatalf("expected Succeeded, got %v", state.Status())
	}

	// 下单成功：订单/余额按用户维度、订单簿按交易对维度各刷新一次
	expected := []domain.ResourceID{
		{Kind: domain.ResourceOrders, Key: "7"},
		{Kind: domain.ResourceBalances, Key: "7"},
		{Kind: domain.ResourceOrderBook, Key: "BTC/USDT"},
	}
	got := refresher.snapshot()
	if len(got) != len(expected) {
		t.Fatalf("expected %v refreshes, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("refresh %d: expected %v, got %v", i, expected[i], got[i])
		}
	}
}

func TestMutationExecutor_DepositRefreshesBalancesOnly(t *testing.T) {
	_, refresher, executor := newExecutorFixture()

	state := executor.Submit(context.Background(), domain.MutationRequest{
		Kind:           domain.MutationDeposit,
		UserID:         "7",
		IdempotencyKey: NewIdempotencyKey(),
		IssuedAt:       time.Now(),
		Deposit:        &domain.DepositPayload{Currency: domain.CurrencyUSDT, Amount: "1000"},
	})
	waitTerminal(t, state)

	got := refresher.snapshot()
	if len(got) != 1 || got[0] != (domain.ResourceID{Kind: domain.ResourceBalances, Key: "7"}) {
		t.Fatalf("expected single balances refresh, got %v", got)
	}
}

func TestMutationExecutor_FailureNeverInvalidates(t *testing.T) {
	api, refresher, executor := newExecutorFixture()
	api.placeErr = domain.NewNetworkError("engine down", errors.New("dial tcp"))

	state := executor.Submit(context.Background(), placeRequest())
	waitTerminal(t, state)

	if state.Status() != domain.MutationFailed {
		t.Fatalf("expected Failed, got %v", state.Status())
	}
	// 失效当且仅当服务端确认成功：失败绝不触发刷新
	if len(refresher.snapshot()) != 0 {
		t.Fatalf("failed mutation must not trigger refresh: %v", refresher.snapshot())
	}
	// 不自动重试：恰好一次派发
	if _, p, _ := api.hits(); p != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", p)
	}
}

func TestMutationExecutor_CancelTerminalOrderConflict(t *testing.T) {
	api, refresher, executor := newExecutorFixture()
	api.cancelErr = domain.NewConflictError("cancel order: order already in terminal state", domain.ErrOrderTerminal)

	state := executor.Submit(context.Background(), domain.MutationRequest{
		Kind:     domain.MutationCancelOrder,
		UserID:   "7",
		IssuedAt: time.Now(),
		Cancel:   &domain.CancelOrderPayload{OrderID: 42, Symbol: "BTC/USDT"},
	})
	waitTerminal(t, state)

	_, err := state.Result()
	if domain.KindOf(err) != domain.ErrKindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if !errors.Is(err, domain.ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal in chain, got %v", err)
	}
	if len(refresher.snapshot()) != 0 {
		t.Fatalf("conflict must not trigger refresh")
	}
}

func TestMutationExecutor_WaitReturnsTerminalError(t *testing.T) {
	api, _, executor := newExecutorFixture()
	api.depositErr = domain.NewValidationError("unsupported currency")

	state := executor.Submit(context.Background(), domain.MutationRequest{
		Kind:     domain.MutationDeposit,
		UserID:   "7",
		IssuedAt: time.Now(),
		Deposit:  &domain.DepositPayload{Currency: domain.CurrencyUSDT, Amount: "10"},
	})

	if err := state.Wait(context.Background()); err == nil {
		t.Fatalf("expected Wait to surface the terminal error")
	}
}
