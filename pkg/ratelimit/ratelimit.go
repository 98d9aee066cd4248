package ratelimit

import (
	"context"
	"sync"
	"time"
)

// 引擎端点分类：行情轮询量大限额高，下单/撤单限额低
const (
	ClassMarket = "market" // GET /market/*
	ClassOrders = "orders" // /orders*
	ClassWallet = "wallet" // /users, /wallets/*
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket 令牌桶速率限制器（用于突发容忍的变更类请求）
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := time.Second
		if tb.refillRate > 0 {
			wait = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// SlidingWindow 滑动窗口速率限制器（用于轮询类只读请求）
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0),
	}
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-sw.windowSize)

	valid := sw.requests[:0]
	for _, req := range sw.requests {
		if req.After(cutoff) {
			valid = append(valid, req)
		}
	}
	sw.requests = valid

	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if w := sw.windowSize - time.Since(sw.requests[0]); w > wait {
				wait = w
			}
		}
		sw.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Manager 按端点分类管理限制器
type Manager struct {
	limiters map[string]Limiter
	mu       sync.RWMutex
}

// NewManager 创建限制器管理器（带默认分类配置）
func NewManager() *Manager {
	return &Manager{
		limiters: map[string]Limiter{
			// 行情轮询：多面板 + 短间隔，给足余量
			ClassMarket: NewSlidingWindow(200, 10*time.Second),
			// 订单读写共享一类：轮询 + 用户操作
			ClassOrders: NewTokenBucket(100, 20),
			// 钱包/用户：低频
			ClassWallet: NewSlidingWindow(60, 10*time.Second),
		},
	}
}

// Wait 等待指定分类允许请求；未知分类直接放行
func (m *Manager) Wait(ctx context.Context, class string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[class]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// Allow 检查指定分类是否允许请求
func (m *Manager) Allow(class string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[class]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
