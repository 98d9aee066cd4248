package push

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/dashbot/godash/internal/ports"
)

var log = logrus.WithField("component", "push")

// Simulated 模拟连接监视器
//
// 当前系统没有真实推送通道：启动后处于 connecting 状态，固定短
// 延迟后翻转为 connected，并维持一个什么都不做的保活节拍。这是
// 为未来推送通道预留的占位行为，必须原样保留（不是 bug）。状态
// 只供 UI 指示器读取，不驱动缓存失效。
type Simulated struct {
	mu        sync.Mutex
	clock     clock.Clock
	delay     time.Duration
	connected bool
	cancel    context.CancelFunc
	timer     *clock.Timer
}

var _ ports.ConnectionMonitor = (*Simulated)(nil)

// DefaultConnectDelay 模拟连接建立延迟
const DefaultConnectDelay = 500 * time.Millisecond

// NewSimulated 创建模拟监视器；delay <= 0 时使用默认延迟
func NewSimulated(clk clock.Clock, delay time.Duration) *Simulated {
	if clk == nil {
		clk = clock.New()
	}
	if delay <= 0 {
		delay = DefaultConnectDelay
	}
	return &Simulated{clock: clk, delay: delay}
}

// Start 进入 connecting 状态，固定延迟后变为 connected
func (s *Simulated) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil // 已启动
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.connected = false

	s.timer = s.clock.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		log.Debug("模拟推送通道已连接")
	})

	// 保活节拍：真实推送就绪前不做任何事（占位，保留原始行为）
	go func() {
		ticker := s.clock.Ticker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

// IsConnected 只读；仅供 UI 轮询
func (s *Simulated) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Stop 拆除并复位到初始状态
func (s *Simulated) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.connected = false
}
