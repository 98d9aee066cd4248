package services

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/internal/metrics"
	"github.com/dashbot/godash/internal/ports"
)

// EngineAPI 变更执行器需要的引擎端点子集（internal/engine.Client 实现）
type EngineAPI interface {
	Deposit(ctx context.Context, userID, currency, amount, idempotencyKey string) (*domain.WalletBalance, error)
	PlaceOrder(ctx context.Context, userID string, p *domain.PlaceOrderPayload, idempotencyKey string) (*domain.Order, error)
	CancelOrder(ctx context.Context, userID string, orderID int64) (*domain.Order, error)
}

// MutationState 一次提交的可观察状态
//
// 状态迁移单调：Idle → Pending → {Succeeded | Failed}（前置校验
// 失败时直接 Idle → Failed，不经过 Pending）。执行器在请求生命
// 周期内独占写入权，调用方只能观察。
type MutationState struct {
	mu      sync.Mutex
	request domain.MutationRequest
	status  domain.MutationStatus
	result  interface{}
	err     error
	done    chan struct{}
}

func newMutationState(req domain.MutationRequest) *MutationState {
	return &MutationState{
		request: req,
		status:  domain.MutationIdle,
		done:    make(chan struct{}),
	}
}

// Status 当前状态
func (s *MutationState) Status() domain.MutationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Result 终态结果（Succeeded 时非 nil）与错误（Failed 时非 nil）
func (s *MutationState) Result() (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Request 返回提交的请求（只读）
func (s *MutationState) Request() domain.MutationRequest {
	return s.request
}

// Done 终态到达时关闭
func (s *MutationState) Done() <-chan struct{} {
	return s.done
}

// Wait 阻塞等待终态；返回 Failed 的错误（或 ctx 取消）
func (s *MutationState) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	}
}

func (s *MutationState) toPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.MutationPending
}

func (s *MutationState) succeed(result interface{}) {
	s.mu.Lock()
	s.status = domain.MutationSucceeded
	s.result = result
	s.mu.Unlock()
	close(s.done)
}

func (s *MutationState) fail(err error) {
	s.mu.Lock()
	s.status = domain.MutationFailed
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

// MutationExecutor 变更执行器
//
// 提交即派发：每次 Submit 恰好向服务端转发一次请求，不做本地
// 去重（同一逻辑意图的并发提交由调用方负责抑制，幂等键原样转发
// 给服务端去重）。失效当且仅当服务端确认成功后发生：Pending 或
// Failed 的请求绝不触发强制刷新，避免提前展示尚未生效的状态。
type MutationExecutor struct {
	api         EngineAPI
	coordinator *InvalidationCoordinator
	refresher   ports.Refresher
}

// NewMutationExecutor 创建变更执行器
func NewMutationExecutor(api EngineAPI, coordinator *InvalidationCoordinator, refresher ports.Refresher) *MutationExecutor {
	return &MutationExecutor{
		api:         api,
		coordinator: coordinator,
		refresher:   refresher,
	}
}

// NewIdempotencyKey 生成新的幂等键（每个逻辑意图一个；重试复用）
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// Submit 提交变更请求，立即返回可观察状态
//
// 前置校验失败时不发起任何网络调用，状态直接落为 Failed。
// 失败的请求不自动重试：重试是调用方用同一幂等键的新一次 Submit。
func (e *MutationExecutor) Submit(ctx context.Context, req domain.MutationRequest) *MutationState {
	state := newMutationState(req)
	metrics.MutationsSubmitted.Add(1)

	if err := validate(req); err != nil {
		metrics.MutationsFailed.Add(1)
		log.Debugf("变更前置校验失败: %s: %v", req.Kind, err)
		state.fail(err)
		return state
	}

	state.toPending()
	go e.dispatch(ctx, req, state)
	return state
}

// dispatch 派发到服务端并按结果推进状态机
func (e *MutationExecutor) dispatch(ctx context.Context, req domain.MutationRequest, state *MutationState) {
	result, err := e.call(ctx, req)
	if err != nil {
		metrics.MutationsFailed.Add(1)
		log.Warnf("变更失败: %s: %v", req.Kind, err)
		state.fail(err)
		return
	}

	state.succeed(result)

	// 服务端已确认成功：对规则表给出的每个资源类型做一次计划外刷新
	for _, kind := range e.coordinator.ResourcesAffectedBy(req.Kind) {
		e.refresher.ForceRefresh(kind, scopeKey(kind, req))
	}
}

// call 按变更类型调用对应端点（恰好一次）
func (e *MutationExecutor) call(ctx context.Context, req domain.MutationRequest) (interface{}, error) {
	switch req.Kind {
	case domain.MutationDeposit:
		return e.api.Deposit(ctx, req.UserID, req.Deposit.Currency, req.Deposit.Amount, req.IdempotencyKey)
	case domain.MutationPlaceOrder:
		return e.api.PlaceOrder(ctx, req.UserID, req.Place, req.IdempotencyKey)
	case domain.MutationCancelOrder:
		return e.api.CancelOrder(ctx, req.UserID, req.Cancel.OrderID)
	default:
		return nil, domain.NewValidationError("未知变更类型: " + string(req.Kind))
	}
}

// scopeKey 把资源类型映射到本次变更的相关 key：
// 用户维度资源用 userID，市场维度资源用交易对 symbol。
func scopeKey(kind domain.ResourceKind, req domain.MutationRequest) string {
	switch kind {
	case domain.ResourceBalances, domain.ResourceOrders:
		return req.UserID
	case domain.ResourceOrderBook, domain.ResourceTrades:
		if req.Place != nil {
			return req.Place.Symbol()
		}
		if req.Cancel != nil {
			return req.Cancel.Symbol
		}
	}
	return req.UserID
}

// validate 客户端前置校验（不替代服务端校验）
func validate(req domain.MutationRequest) error {
	if req.UserID == "" {
		return domain.NewValidationError("缺少用户 ID")
	}

	switch req.Kind {
	case domain.MutationPlaceOrder:
		return validatePlace(req.Place)
	case domain.MutationCancelOrder:
		if req.Cancel == nil || req.Cancel.OrderID <= 0 {
			return domain.NewValidationError("撤单缺少合法订单 ID")
		}
	case domain.MutationDeposit:
		if req.Deposit == nil {
			return domain.NewValidationError("充值缺少负载")
		}
		if !domain.ValidCurrency(req.Deposit.Currency) {
			return domain.NewValidationError("不支持的币种: " + req.Deposit.Currency)
		}
		if !domain.IsPositiveDecimal(req.Deposit.Amount) {
			return domain.NewValidationError("充值金额必须为正的十进制数")
		}
	default:
		return domain.NewValidationError("未知变更类型: " + string(req.Kind))
	}
	return nil
}

// validatePlace 下单守卫：数量为正；LIMIT 必须带正价格；MARKET 必须省略价格
func validatePlace(p *domain.PlaceOrderPayload) error {
	if p == nil {
		return domain.NewValidationError("下单缺少负载")
	}
	if !domain.IsPositiveDecimal(p.Quantity) {
		return domain.NewValidationError("数量必须为正的十进制数")
	}
	switch p.Type {
	case domain.OrderTypeLimit:
		if p.Price == nil || !domain.IsPositiveDecimal(*p.Price) {
			return domain.NewValidationError("LIMIT 单价格必须为正的十进制数")
		}
	case domain.OrderTypeMarket:
		if p.Price != nil {
			return domain.NewValidationError("MARKET 单不能携带价格")
		}
	default:
		return domain.NewValidationError("未知订单类型: " + string(p.Type))
	}
	if p.Side != domain.OrderSideBuy && p.Side != domain.OrderSideSell {
		return domain.NewValidationError("未知订单方向: " + string(p.Side))
	}
	return nil
}
