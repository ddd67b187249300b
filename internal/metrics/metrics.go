package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 同步运行次数
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_sync_runs_total",
			Help: "Sync runs by outcome",
		},
		[]string{"outcome"}, // succeeded, failed, already_running, rate_limited
	)

	// 同步耗时（秒）
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"outcome"},
	)

	// 拉取页数
	FetchPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_fetch_pages_total",
			Help: "Fetched pages by source",
		},
		[]string{"source"}, // imap, synthetic
	)

	ThrottledRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_fetch_throttled_total",
			Help: "Fetch calls rejected by the throttle window",
		},
	)

	// 入库行数
	IngestedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_ingested_rows_total",
			Help: "Rows handled by the ingestion writer",
		},
		[]string{"result"}, // inserted, duplicate, failed
	)

	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_connection_attempts_total",
			Help: "IMAP connection attempts by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsync_progress_subscribers",
			Help: "Open progress subscriptions",
		},
	)
)

// RecordSyncRun 记录一次同步结果
func RecordSyncRun(outcome string, duration time.Duration) {
	SyncRuns.WithLabelValues(outcome).Inc()
	SyncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncrementFetchPage 增加拉取页计数
func IncrementFetchPage(source string) {
	FetchPages.WithLabelValues(source).Inc()
}

// IncrementThrottled 增加限流计数
func IncrementThrottled() {
	ThrottledRequests.Inc()
}

// RecordIngest 记录入库结果
func RecordIngest(inserted, duplicate, failed int) {
	IngestedRows.WithLabelValues("inserted").Add(float64(inserted))
	IngestedRows.WithLabelValues("duplicate").Add(float64(duplicate))
	IngestedRows.WithLabelValues("failed").Add(float64(failed))
}

// IncrementConnectionAttempt 增加连接尝试计数
func IncrementConnectionAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	ConnectionAttempts.WithLabelValues(outcome).Inc()
}

// SetProgressSubscribers 设置当前订阅数
func SetProgressSubscribers(n int64) {
	ProgressSubscribers.Set(float64(n))
}
