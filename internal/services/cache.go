package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/internal/metrics"
	"github.com/dashbot/godash/internal/ports"
	"github.com/dashbot/godash/pkg/sigchan"
)

var log = logrus.WithField("component", "sync")

// Scheduler 缓存对轮询器的依赖（由 Poller 实现，bootstrap 时绑定）
type Scheduler interface {
	EnsureScheduled(desc domain.ResourceDescriptor)
	Stop(kind domain.ResourceKind, key string)
}

// ResourceCache 资源缓存：每个 (kind, key) 恰好一个条目
//
// 缓存是整个同步核心里唯一的共享可变结构，所有写入方（轮询完成、
// 强制刷新完成）都必须经过 Write，Write 按发起时间对同一资源的
// 写入定序：慢的旧响应不允许覆盖新响应。面板只持有只读视图。
//
// 条目在首次订阅时惰性创建，最后一个订阅者退订后经过一段宽限期
// 才被驱逐（页面切换后快速回订无需重新拉取）。
type ResourceCache struct {
	mu        sync.Mutex
	clock     clock.Clock
	grace     time.Duration
	scheduler Scheduler

	records  map[domain.ResourceID]*cacheRecord
	handlers []ports.EntryUpdateHandler
	nextSub  int64
}

type cacheRecord struct {
	desc         domain.ResourceDescriptor
	entry        domain.CacheEntry
	appliedIssue time.Time // 当前值对应的拉取发起时间（写入定序依据）
	subscribers  map[int64]*Subscription
	evictTimer   *clock.Timer
}

// Subscription 订阅句柄：读取当前条目、接收更新信号、退订
type Subscription struct {
	id     int64
	rid    domain.ResourceID
	cache  *ResourceCache
	notify *sigchan.Chan
	once   sync.Once
}

// DefaultEvictionGrace 默认驱逐宽限期
const DefaultEvictionGrace = 30 * time.Second

// NewResourceCache 创建资源缓存（显式生命周期，不使用包级隐藏状态）
func NewResourceCache(clk clock.Clock, grace time.Duration) *ResourceCache {
	if clk == nil {
		clk = clock.New()
	}
	if grace <= 0 {
		grace = DefaultEvictionGrace
	}
	return &ResourceCache{
		clock:   clk,
		grace:   grace,
		records: make(map[domain.ResourceID]*cacheRecord),
	}
}

// BindScheduler 绑定轮询器（bootstrap 时调用一次，必须在首次 Subscribe 之前）
func (c *ResourceCache) BindScheduler(s Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = s
}

// OnEntryUpdate 注册条目更新回调（每次 Write 后同步调用）
func (c *ResourceCache) OnEntryUpdate(h ports.EntryUpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Subscribe 注册对资源的兴趣；条目不存在时创建并交给轮询器调度
func (c *ResourceCache) Subscribe(desc domain.ResourceDescriptor) (*Subscription, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	rid := desc.ID()
	rec, ok := c.records[rid]
	if !ok {
		rec = &cacheRecord{
			desc:        desc,
			subscribers: make(map[int64]*Subscription),
		}
		c.records[rid] = rec
	}
	// 宽限期内回订：取消驱逐
	if rec.evictTimer != nil {
		rec.evictTimer.Stop()
		rec.evictTimer = nil
	}
	c.nextSub++
	sub := &Subscription{
		id:     c.nextSub,
		rid:    rid,
		cache:  c,
		notify: sigchan.New(1),
	}
	rec.subscribers[sub.id] = sub
	scheduler := c.scheduler
	c.mu.Unlock()

	if scheduler != nil {
		scheduler.EnsureScheduled(desc)
	}
	return sub, nil
}

// Read 非阻塞读取条目快照；条目不存在时返回零值（Value 为 nil）
func (c *ResourceCache) Read(kind domain.ResourceKind, key string) domain.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[domain.ResourceID{Kind: kind, Key: key}]
	if !ok {
		return domain.CacheEntry{}
	}
	return rec.entry
}

// MarkFetching 轮询器在发起拉取时标记在途状态
func (c *ResourceCache) MarkFetching(kind domain.ResourceKind, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[domain.ResourceID{Kind: kind, Key: key}]; ok {
		rec.entry.IsFetching = true
	}
}

// Write 应用一次拉取结果（成功或失败）
//
// issuedAt 是该次拉取的发起时间。同一资源上，发起时间早于当前已
// 应用值的写入会被丢弃：慢的旧响应不能覆盖新响应（完成序与发起序
// 可能不同）。已驱逐条目的写入同样被丢弃，不会复活条目。
func (c *ResourceCache) Write(kind domain.ResourceKind, key string, issuedAt time.Time, value interface{}, fetchErr error) {
	rid := domain.ResourceID{Kind: kind, Key: key}

	c.mu.Lock()
	rec, ok := c.records[rid]
	if !ok {
		c.mu.Unlock()
		log.Debugf("丢弃已驱逐资源的写入: %s", rid)
		return
	}
	if issuedAt.Before(rec.appliedIssue) {
		c.mu.Unlock()
		metrics.StaleWritesDropped.Add(1)
		log.Debugf("丢弃过期写入: %s issuedAt=%v appliedIssue=%v", rid, issuedAt, rec.appliedIssue)
		return
	}

	rec.appliedIssue = issuedAt
	rec.entry.IsFetching = false
	rec.entry.FetchedAt = c.clock.Now()
	if fetchErr != nil {
		// 保留旧值作为过期数据展示，仅标记错误
		rec.entry.LastError = domain.AsError(fetchErr)
	} else {
		rec.entry.Value = value
		rec.entry.LastError = nil
	}

	entry := rec.entry
	subs := make([]*Subscription, 0, len(rec.subscribers))
	for _, s := range rec.subscribers {
		subs = append(subs, s)
	}
	handlers := make([]ports.EntryUpdateHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	// 同步通知：顺序不做保证，只保证发生在本次拉取完成之后
	for _, s := range subs {
		s.notify.Emit()
	}
	ctx := context.Background()
	for _, h := range handlers {
		if err := h.OnEntryUpdate(ctx, rid, entry); err != nil {
			log.Warnf("条目更新回调失败: %s: %v", rid, err)
		}
	}
}

// unsubscribe 退订；最后一个订阅者退订后启动驱逐宽限计时
func (c *ResourceCache) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[sub.rid]
	if !ok {
		return
	}
	delete(rec.subscribers, sub.id)
	if len(rec.subscribers) > 0 {
		return
	}

	rid := sub.rid
	rec.evictTimer = c.clock.AfterFunc(c.grace, func() {
		c.evict(rid)
	})
}

// evict 宽限期到期后驱逐条目并停止调度
func (c *ResourceCache) evict(rid domain.ResourceID) {
	c.mu.Lock()
	rec, ok := c.records[rid]
	if !ok || len(rec.subscribers) > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.records, rid)
	scheduler := c.scheduler
	c.mu.Unlock()

	metrics.CacheEvictions.Add(1)
	log.Debugf("驱逐缓存条目: %s", rid)
	if scheduler != nil {
		scheduler.Stop(rid.Kind, rid.Key)
	}
}

// Teardown 清空全部条目并停止调度（进程退出时调用）
func (c *ResourceCache) Teardown() {
	c.mu.Lock()
	rids := make([]domain.ResourceID, 0, len(c.records))
	for rid, rec := range c.records {
		if rec.evictTimer != nil {
			rec.evictTimer.Stop()
		}
		rids = append(rids, rid)
	}
	c.records = make(map[domain.ResourceID]*cacheRecord)
	scheduler := c.scheduler
	c.mu.Unlock()

	if scheduler != nil {
		for _, rid := range rids {
			scheduler.Stop(rid.Kind, rid.Key)
		}
	}
}

// Read 读取订阅资源的当前条目
func (s *Subscription) Read() domain.CacheEntry {
	return s.cache.Read(s.rid.Kind, s.rid.Key)
}

// Resource 返回订阅对应的资源标识
func (s *Subscription) Resource() domain.ResourceID {
	return s.rid
}

// Updates 更新信号 channel（合并信号：收到后重新 Read 即可）
func (s *Subscription) Updates() <-chan struct{} {
	return s.notify.C()
}

// Close 退订（幂等）。不会取消在途网络请求，只停止后续调度并使
// 条目进入驱逐宽限期。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cache.unsubscribe(s)
	})
}
