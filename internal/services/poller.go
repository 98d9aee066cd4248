package services

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/internal/metrics"
	"github.com/dashbot/godash/internal/ports"
)

// Poller 按资源独立节拍的轮询器
//
// 每个已调度资源对应一个 goroutine：首次拉取立即执行（新订阅者
// 无需等一个完整周期），之后按描述里的间隔定时拉取。
//
// 单飞约束：同一资源任意时刻至多一个在途拉取。在途期间到达的
// 定时 tick 或强制刷新一律跳过（不排队、不重叠），下一个 tick
// 仍按原相位触发。拉取失败只写入 lastError，调度继续，下一个
// tick 自动重试，不做退避。
type Poller struct {
	mu      sync.Mutex
	clock   clock.Clock
	fetcher ports.Fetcher
	cache   *ResourceCache
	states  map[domain.ResourceID]*pollState
	wg      sync.WaitGroup
}

var _ ports.Refresher = (*Poller)(nil)

type pollState struct {
	desc     domain.ResourceDescriptor
	cancel   context.CancelFunc
	inFlight bool
}

// NewPoller 创建轮询器并与缓存互相绑定
func NewPoller(clk clock.Clock, fetcher ports.Fetcher, cache *ResourceCache) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	p := &Poller{
		clock:   clk,
		fetcher: fetcher,
		cache:   cache,
		states:  make(map[domain.ResourceID]*pollState),
	}
	cache.BindScheduler(p)
	return p
}

// EnsureScheduled 幂等地为资源启动定时拉取；首次 tick 立即触发
func (p *Poller) EnsureScheduled(desc domain.ResourceDescriptor) {
	p.mu.Lock()
	rid := desc.ID()
	if _, ok := p.states[rid]; ok {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &pollState{desc: desc, cancel: cancel}
	p.states[rid] = st
	p.mu.Unlock()

	log.Debugf("开始调度: %s interval=%v", rid, desc.Interval)
	p.wg.Add(1)
	go p.loop(ctx, st)
}

// loop 单个资源的调度循环
func (p *Poller) loop(ctx context.Context, st *pollState) {
	defer p.wg.Done()

	// 冷启动：立即拉取一次
	p.tryFetch(ctx, st)

	ticker := p.clock.Ticker(st.desc.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tryFetch(ctx, st)
		}
	}
}

// ForceRefresh 计划外立即拉取（变更成功后的失效路径专用）。
// 不重置、不扰动常规间隔的相位；资源未被调度时为空操作。
func (p *Poller) ForceRefresh(kind domain.ResourceKind, key string) {
	p.mu.Lock()
	st, ok := p.states[domain.ResourceID{Kind: kind, Key: key}]
	p.mu.Unlock()
	if !ok {
		log.Debugf("强制刷新目标未调度，忽略: %s:%s", kind, key)
		return
	}
	metrics.ForcedRefreshes.Add(1)
	// 与常规 tick 遵循同一单飞规则：在途则跳过而非排队。
	// 在途拉取反映的数据不早于变更生效点，或将被下一个 tick 覆盖。
	p.tryFetch(context.Background(), st)
}

// tryFetch 发起一次拉取；若该资源已有在途拉取则跳过
func (p *Poller) tryFetch(ctx context.Context, st *pollState) {
	p.mu.Lock()
	if st.inFlight {
		p.mu.Unlock()
		metrics.FetchesSkipped.Add(1)
		return
	}
	st.inFlight = true
	p.mu.Unlock()

	issuedAt := p.clock.Now()
	rid := st.desc.ID()
	p.cache.MarkFetching(rid.Kind, rid.Key)
	metrics.FetchesIssued.Add(1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		value, err := p.fetcher.Fetch(ctx, st.desc)

		p.mu.Lock()
		st.inFlight = false
		p.mu.Unlock()

		if err != nil {
			metrics.FetchErrors.Add(1)
			log.Debugf("拉取失败（下个 tick 重试）: %s: %v", rid, err)
		}
		p.cache.Write(rid.Kind, rid.Key, issuedAt, value, err)
	}()
}

// Stop 取消资源的调度（缓存驱逐时调用）。不取消在途拉取，
// 其完成结果由缓存按驱逐规则丢弃。
func (p *Poller) Stop(kind domain.ResourceKind, key string) {
	p.mu.Lock()
	rid := domain.ResourceID{Kind: kind, Key: key}
	st, ok := p.states[rid]
	if ok {
		delete(p.states, rid)
	}
	p.mu.Unlock()

	if ok {
		st.cancel()
		log.Debugf("停止调度: %s", rid)
	}
}

// StopAll 取消全部调度并等待 goroutine 退出
func (p *Poller) StopAll() {
	p.mu.Lock()
	for rid, st := range p.states {
		st.cancel()
		delete(p.states, rid)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
