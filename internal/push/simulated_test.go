package push

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSimulated_ConnectsAfterFixedDelay(t *testing.T) {
	clk := clock.NewMock()
	m := NewSimulated(clk, time.Second)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	// 启动后先处于 connecting
	if m.IsConnected() {
		t.Fatalf("expected connecting state right after start")
	}

	clk.Add(500 * time.Millisecond)
	if m.IsConnected() {
		t.Fatalf("connected before the fixed delay elapsed")
	}

	clk.Add(600 * time.Millisecond)
	if !m.IsConnected() {
		t.Fatalf("expected connected after delay")
	}
}

func TestSimulated_StopResets(t *testing.T) {
	clk := clock.NewMock()
	m := NewSimulated(clk, time.Second)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Add(2 * time.Second)
	if !m.IsConnected() {
		t.Fatalf("expected connected")
	}

	m.Stop()
	if m.IsConnected() {
		t.Fatalf("expected disconnected after stop")
	}

	// 重新启动回到 connecting，再次按延迟翻转
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m.Stop()
	if m.IsConnected() {
		t.Fatalf("expected connecting after restart")
	}
	clk.Add(time.Second)
	if !m.IsConnected() {
		t.Fatalf("expected reconnect after delay")
	}
}

func TestSimulated_StartIdempotent(t *testing.T) {
	clk := clock.NewMock()
	m := NewSimulated(clk, time.Second)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
}
