package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/metrics"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

const (
	KindCrawl  = "crawl"
	KindDetect = "detect"
)

// RunReport 一次运行（抓取或变更检测）的完整汇总
type RunReport struct {
	RunID             string           `json:"run_id"`
	Kind              string           `json:"kind"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	Pages             int              `json:"pages"`
	Discovered        int              `json:"discovered"`
	DiscoveryComplete bool             `json:"discovery_complete"`
	DiscoveryError    string           `json:"discovery_error,omitempty"`
	NotifyError       string           `json:"notify_error,omitempty"`
	Crawl             *CrawlReport     `json:"crawl,omitempty"`
	Reconcile         *ReconcileReport `json:"reconcile,omitempty"`
}

// Pipeline 串起发现、抓取、变更检测和通知
type Pipeline struct {
	Log        *zap.Logger
	Discoverer *Discoverer
	Crawler    *Crawler
	Reconciler *Reconciler
	Store      Store
	Notifier   ChangeNotifier
	Metrics    *metrics.Metrics
}

// PipelineConfig 构造 Pipeline 的参数
type PipelineConfig struct {
	BaseURL         string
	ListingPath     string
	DiscoveryWindow int
	Workers         int
}

// NewPipeline 用同一个 Fetcher 和 Store 组装各个阶段
func NewPipeline(log *zap.Logger, f Fetcher, store Store, notifier ChangeNotifier, m *metrics.Metrics, cfg PipelineConfig) *Pipeline {
	crawler := &Crawler{
		Log:     log.Named("crawler"),
		Fetcher: f,
		Store:   store,
		Metrics: m,
		Workers: cfg.Workers,
	}
	return &Pipeline{
		Log: log,
		Discoverer: &Discoverer{
			Log:         log.Named("discovery"),
			Fetcher:     f,
			Metrics:     m,
			BaseURL:     cfg.BaseURL,
			ListingPath: cfg.ListingPath,
			Window:      cfg.DiscoveryWindow,
		},
		Crawler: crawler,
		Reconciler: &Reconciler{
			Log:     log.Named("reconciler"),
			Fetcher: f,
			Store:   store,
			Crawler: crawler,
			Metrics: m,
			Workers: cfg.Workers,
		},
		Store:    store,
		Notifier: notifier,
		Metrics:  m,
	}
}

// Crawl 初始抓取 / 续抓
func (p *Pipeline) Crawl(ctx context.Context) (report *RunReport, err error) {
	report = p.newReport(KindCrawl)
	defer func() { p.finish(report, err) }()

	stubs := p.discover(ctx, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	known, err := p.Store.KnownIDs(ctx)
	if err != nil {
		return report, &StoreError{Op: "load known ids", Err: err}
	}

	report.Crawl, err = p.Crawler.RunInitialCrawl(ctx, stubs, known)
	return report, err
}

// DetectChanges 变更检测；有变化时通知，通知失败只记录不报错
func (p *Pipeline) DetectChanges(ctx context.Context) (report *RunReport, err error) {
	report = p.newReport(KindDetect)
	defer func() { p.finish(report, err) }()

	stubs := p.discover(ctx, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	existing, err := p.Store.AllBooks(ctx)
	if err != nil {
		return report, &StoreError{Op: "load books", Err: err}
	}

	report.Reconcile, err = p.Reconciler.RunReconciliation(ctx, stubs, existing)
	if err != nil {
		return report, err
	}

	if changes := report.Reconcile.Changes; len(changes) > 0 && p.Notifier != nil {
		if nerr := p.Notifier.Notify(ctx, changes); nerr != nil {
			report.NotifyError = nerr.Error()
			p.Log.Error("Failed to send change notification",
				zap.Int("changes", len(changes)),
				zap.Error(nerr),
			)
		}
	}
	return report, nil
}

func (p *Pipeline) newReport(kind string) *RunReport {
	return &RunReport{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: nowUTC(),
	}
}

func (p *Pipeline) discover(ctx context.Context, report *RunReport) []model.ItemStub {
	res := p.Discoverer.Discover(ctx)
	report.Pages = res.Pages
	report.Discovered = len(res.Stubs)
	report.DiscoveryComplete = res.Complete
	if res.Err != nil {
		report.DiscoveryError = res.Err.Error()
		p.Log.Warn("Discovery incomplete, continuing with partial catalog",
			zap.String("runId", report.RunID),
			zap.Int("discovered", len(res.Stubs)),
			zap.Error(res.Err),
		)
	}
	return res.Stubs
}

func (p *Pipeline) finish(report *RunReport, err error) {
	report.FinishedAt = nowUTC()
	p.Metrics.ObserveRun(report.Kind, report.StartedAt, err)

	fields := []zap.Field{
		zap.String("runId", report.RunID),
		zap.String("kind", report.Kind),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("discovered", report.Discovered),
	}
	if err != nil {
		p.Log.Error("Run failed", append(fields, zap.Error(err))...)
		return
	}
	p.Log.Info("Run finished", fields...)
}
