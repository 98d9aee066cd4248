package push

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dashbot/godash/internal/ports"
	"github.com/dashbot/godash/pkg/syncgroup"
)

// WS 真实推送通道的连接监视器（与 Simulated 同契约，可互换）
//
// 只维护连通性：收到的推送消息当前全部丢弃，不驱动缓存失效
// （"order filled 推送应立即触发刷新" 是已知的设计缺口，未决）。
// 信号驱动重连，指数退避，心跳超时视为断线。
type WS struct {
	url            string
	conn           *websocket.Conn
	mu             sync.RWMutex
	connected      bool
	cancel         context.CancelFunc
	reconnectC     chan struct{}
	reconnectMu    sync.Mutex
	reconnectCount int
	maxReconnects  int
	reconnectDelay time.Duration
	lastPong       time.Time
	sg             *syncgroup.SyncGroup
}

var _ ports.ConnectionMonitor = (*WS)(nil)

// NewWS 创建 WebSocket 连接监视器
func NewWS(url string) *WS {
	return &WS{
		url:            url,
		reconnectC:     make(chan struct{}, 1), // 缓冲1，避免阻塞
		maxReconnects:  10,
		reconnectDelay: 5 * time.Second,
		lastPong:       time.Now(),
		sg:             syncgroup.NewSyncGroup(),
	}
}

// Start 建立连接并启动读/心跳/重连循环
func (w *WS) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.dial(); err != nil {
		// 首次拨号失败不致命：交给重连循环
		log.Warnf("推送通道首次拨号失败: %v", err)
		w.signalReconnect()
	}

	w.sg.Add(func() { w.readLoop(runCtx) })
	w.sg.Add(func() { w.pingLoop(runCtx) })
	w.sg.Add(func() { w.reconnector(runCtx) })
	w.sg.Run()
	return nil
}

// IsConnected 只读；仅供 UI 轮询
func (w *WS) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Stop 拆除连接并复位
func (w *WS) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.cancel = nil
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
	w.mu.Unlock()

	w.sg.WaitAndClear()
}

func (w *WS) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(w.url, nil)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error {
		w.mu.Lock()
		w.lastPong = time.Now()
		w.mu.Unlock()
		return nil
	})

	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = conn
	w.connected = true
	w.lastPong = time.Now()
	w.mu.Unlock()

	w.reconnectMu.Lock()
	w.reconnectCount = 0
	w.reconnectMu.Unlock()

	log.Infof("推送通道已连接: %s", w.url)
	return nil
}

// readLoop 持续读取并丢弃消息（推送尚未接入失效路径）
func (w *WS) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("推送通道读取失败: %v", err)
			w.markDisconnected()
			w.signalReconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// pingLoop 定期心跳；pong 超时视为断线
func (w *WS) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			lastPong := w.lastPong
			w.mu.RUnlock()
			if conn == nil {
				continue
			}
			if time.Since(lastPong) > 30*time.Second {
				log.Warn("心跳超时，标记断线")
				w.markDisconnected()
				w.signalReconnect()
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				w.markDisconnected()
				w.signalReconnect()
			}
		}
	}
}

// reconnector 信号驱动重连，指数退避
func (w *WS) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reconnectC:
		}

		w.reconnectMu.Lock()
		w.reconnectCount++
		count := w.reconnectCount
		w.reconnectMu.Unlock()

		if count > w.maxReconnects {
			log.Errorf("重连次数超限（%d），放弃重连", w.maxReconnects)
			return
		}

		delay := w.reconnectDelay * time.Duration(1<<uint(count-1))
		if delay > time.Minute {
			delay = time.Minute
		}
		log.Infof("第 %d 次重连，%v 后尝试", count, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := w.dial(); err != nil {
			log.Warnf("重连失败: %v", err)
			w.signalReconnect()
		}
	}
}

func (w *WS) markDisconnected() {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
}

func (w *WS) signalReconnect() {
	select {
	case w.reconnectC <- struct{}{}:
	default:
	}
}
