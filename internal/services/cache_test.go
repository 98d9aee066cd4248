package services

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dashbot/godash/internal/domain"
)

// recordingScheduler 记录调度/停止调用的假轮询器
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []domain.ResourceID
	stopped   []domain.ResourceID
}

func (s *recordingScheduler) EnsureScheduled(desc domain.ResourceDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, desc.ID())
}

func (s *recordingScheduler) Stop(kind domain.ResourceKind, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, domain.ResourceID{Kind: kind, Key: key})
}

func (s *recordingScheduler) stoppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stopped)
}

func testDesc() domain.ResourceDescriptor {
	return domain.ResourceDescriptor{
		Kind:     domain.ResourceBalances,
		Key:      "7",
		Interval: 5 * time.Second,
	}
}

func TestResourceCache_SubscribeRejectsInvalidDescriptor(t *testing.T) {
	c := NewResourceCache(clock.NewMock(), time.Second)

	if _, err := c.Subscribe(domain.ResourceDescriptor{Kind: "positions", Key: "7", Interval: time.Second}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := c.Subscribe(domain.ResourceDescriptor{Kind: domain.ResourceOrders, Key: "", Interval: time.Second}); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := c.Subscribe(domain.ResourceDescriptor{Kind: domain.ResourceOrders, Key: "7", Interval: 0}); err == nil {
		t.Fatalf("expected error for non-positive interval")
	}
}

func TestResourceCache_SubscribeDelegatesScheduling(t *testing.T) {
	c := NewResourceCache(clock.NewMock(), time.Second)
	sched := &recordingScheduler{}
	c.BindScheduler(sched)

	desc := testDesc()
	sub1, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub1.Close()
	sub2, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub2.Close()

	// EnsureScheduled 每次订阅都会调用，幂等性由轮询器保证
	sched.mu.Lock()
	n := len(sched.scheduled)
	sched.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected 2 EnsureScheduled calls, got %d", n)
	}
}

func TestResourceCache_WriteOrdersByIssueTime(t *testing.T) {
	clk := clock.NewMock()
	c := NewResourceCache(clk, time.Second)
	desc := testDesc()
	sub, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	t1 := clk.Now()
	t2 := t1.Add(time.Second)

	// 后发起的拉取先完成
	c.Write(desc.Kind, desc.Key, t2, "new", nil)
	// 先发起的拉取后完成：必须被丢弃
	c.Write(desc.Kind, desc.Key, t1, "old", nil)

	entry := c.Read(desc.Kind, desc.Key)
	if entry.Value != "new" {
		t.Fatalf("stale write overwrote newer value: %v", entry.Value)
	}
}

func TestResourceCache_ErrorKeepsLastValue(t *testing.T) {
	clk := clock.NewMock()
	c := NewResourceCache(clk, time.Second)
	desc := testDesc()
	sub, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	t1 := clk.Now()
	c.Write(desc.Kind, desc.Key, t1, "v1", nil)
	c.Write(desc.Kind, desc.Key, t1.Add(time.Second), nil, domain.NewNetworkError("boom", nil))

	entry := c.Read(desc.Kind, desc.Key)
	// 失败只标记错误，旧值继续作为过期数据展示
	if entry.Value != "v1" {
		t.Fatalf("error write dropped last good value: %v", entry.Value)
	}
	if !entry.Stale() {
		t.Fatalf("expected stale flag after fetch error")
	}
	if entry.LastError.Kind != domain.ErrKindNetwork {
		t.Fatalf("unexpected error kind: %v", entry.LastError.Kind)
	}

	// 下一次成功拉取清除错误标记
	c.Write(desc.Kind, desc.Key, t1.Add(2*time.Second), "v2", nil)
	entry = c.Read(desc.Kind, desc.Key)
	if entry.Value != "v2" || entry.Stale() {
		t.Fatalf("success write did not clear error: %+v", entry)
	}
}

func TestResourceCache_UpdateSignal(t *testing.T) {
	clk := clock.NewMock()
	c := NewResourceCache(clk, time.Second)
	desc := testDesc()
	sub, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	c.Write(desc.Kind, desc.Key, clk.Now(), "v1", nil)

	select {
	case <-sub.Updates():
	case <-time.After(time.Second):
		t.Fatalf("expected update signal after write")
	}
}

func TestResourceCache_EvictionGraceAndResubscribe(t *testing.T) {
	clk := clock.NewMock()
	grace := 30 * time.Second
	c := NewResourceCache(clk, grace)
	sched := &recordingScheduler{}
	c.BindScheduler(sched)

	desc := testDesc()
	sub, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	c.Write(desc.Kind, desc.Key, clk.Now(), "v1", nil)

	// 退订后进入宽限期，条目仍在
	sub.Close()
	clk.Add(grace / 2)
	if entry := c.Read(desc.Kind, desc.Key); entry.Value != "v1" {
		t.Fatalf("entry evicted during grace period")
	}

	// 宽限期内回订：取消驱逐，之后继续存活
	sub2, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	clk.Add(grace * 2)
	if entry := c.Read(desc.Kind, desc.Key); entry.Value != "v1" {
		t.Fatalf("resubscribe did not cancel eviction")
	}
	if sched.stoppedCount() != 0 {
		t.Fatalf("scheduler stopped despite active subscriber")
	}

	// 再次退订并等满宽限期：条目被驱逐，调度停止
	sub2.Close()
	clk.Add(grace + time.Second)
	if entry := c.Read(desc.Kind, desc.Key); entry.HasValue() {
		t.Fatalf("entry not evicted after grace period")
	}
	if sched.stoppedCount() != 1 {
		t.Fatalf("expected scheduler stop after eviction, got %d", sched.stoppedCount())
	}
}

func TestResourceCache_WriteAfterEvictionDiscarded(t *testing.T) {
	clk := clock.NewMock()
	c := NewResourceCache(clk, time.Second)
	desc := testDesc()
	sub, err := c.Subscribe(desc)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	issuedAt := clk.Now()
	sub.Close()
	clk.Add(2 * time.Second) // 宽限期耗尽，条目已驱逐

	// 在途拉取此时才完成：写入必须被丢弃，条目不得复活
	c.Write(desc.Kind, desc.Key, issuedAt, "ghost", nil)
	if entry := c.Read(desc.Kind, desc.Key); entry.HasValue() {
		t.Fatalf("write revived evicted entry: %+v", entry)
	}
}

func TestResourceCache_ClosedSubscriptionIdempotent(t *testing.T) {
	clk := clock.NewMock()
	c := NewResourceCache(clk, time.Second)
	sub, err := c.Subscribe(testDesc())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close() // 重复退订不应 panic 或二次计时
}
