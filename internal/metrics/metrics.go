package metrics

import "expvar"

var (
	FetchesIssued      = expvar.NewInt("fetches_issued")
	FetchErrors        = expvar.NewInt("fetch_errors")
	FetchesSkipped     = expvar.NewInt("fetches_skipped")      // 单飞保护：在途期间跳过的 tick/强制刷新
	StaleWritesDropped = expvar.NewInt("stale_writes_dropped") // 按发起时间序被丢弃的慢响应
	ForcedRefreshes    = expvar.NewInt("forced_refreshes")
	MutationsSubmitted = expvar.NewInt("mutations_submitted")
	MutationsFailed    = expvar.NewInt("mutations_failed")
	CacheEvictions     = expvar.NewInt("cache_evictions")
)
