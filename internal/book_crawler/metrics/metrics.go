// Package metrics 抓取与变更检测的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "book_crawler"

// Metrics 所有方法对 nil 接收者安全，测试时可以不传
type Metrics struct {
	FetchAttempts  *prometheus.CounterVec
	ListingPages   *prometheus.CounterVec
	ItemsSaved     *prometheus.CounterVec
	ChangesFound   *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	LastRunSuccess *prometheus.GaugeVec
}

// New 创建并注册指标；reg 为空时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP fetch attempts by outcome (success, retryable, terminal).",
		}, []string{"outcome"}),
		ListingPages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_pages_total",
			Help:      "Listing pages processed during discovery by result.",
		}, []string{"result"}),
		ItemsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_saved_total",
			Help:      "Catalog items inserted by fetch status.",
		}, []string{"status"}),
		ChangesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_detected_total",
			Help:      "Change journal entries appended by field.",
		}, []string{"field"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs by kind (crawl, detect).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"kind"}),
		LastRunSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run of this kind finished without a fatal error.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) FetchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ListingPage(result string) {
	if m == nil {
		return
	}
	m.ListingPages.WithLabelValues(result).Inc()
}

func (m *Metrics) ItemSaved(status string) {
	if m == nil {
		return
	}
	m.ItemsSaved.WithLabelValues(status).Inc()
}

func (m *Metrics) ChangeFound(field string) {
	if m == nil {
		return
	}
	m.ChangesFound.WithLabelValues(field).Inc()
}

// ObserveRun 记录一次运行的耗时和结果
func (m *Metrics) ObserveRun(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	ok := 1.0
	if err != nil {
		ok = 0
	}
	m.LastRunSuccess.WithLabelValues(kind).Set(ok)
}
