package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/fetcher"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/helper"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/metrics"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/notifier"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/processor"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/scheduler"
	"github.com/saifullahBUET144/webCrawler/internal/middleware/logger"
	"github.com/saifullahBUET144/webCrawler/pkg/config"
)

// app 每个进程一份的依赖：配置、日志、存储、指标
type app struct {
	configPath string

	cfg     *config.Config
	log     *zap.Logger
	stores  *helper.Stores
	metrics *metrics.Metrics
}

func (a *app) init() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log = log

	if err := helper.ConfigureTimeLocation(cfg.Scheduler.Timezone); err != nil {
		log.Warn("Invalid timezone, falling back to UTC",
			zap.String("timezone", cfg.Scheduler.Timezone),
			zap.Error(err),
		)
	}

	a.metrics = metrics.New(prometheus.DefaultRegisterer)
	return nil
}

// pipeline 连接 MongoDB 并组装抓取流水线；连接失败直接 panic
func (a *app) pipeline(ctx context.Context) *processor.Pipeline {
	a.log.Info("Connecting to MongoDB", zap.String("db", a.cfg.Mongo.DBName))
	a.stores = helper.MustMongo(ctx, a.cfg.Mongo)

	c := a.cfg.Crawler
	f := fetcher.New(fetcher.Options{
		UserAgent: c.UserAgent,
		Timeout:   c.Timeout,
		Policy: fetcher.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
			Jitter:      c.Retry.Jitter,
		},
		OnAttempt: func(url string, attempt int, outcome fetcher.Outcome) {
			a.metrics.FetchAttempt(outcome.String())
			if outcome != fetcher.Success {
				a.log.Debug("Fetch attempt failed",
					zap.String("url", url),
					zap.Int("attempt", attempt),
					zap.Stringer("outcome", outcome),
				)
			}
		},
	})

	notify := notifier.Multi{
		&notifier.LogNotifier{Log: a.log.Named("notifier")},
		notifier.NewSMTPNotifier(a.log.Named("smtp"), a.cfg.Alert),
	}

	return processor.NewPipeline(a.log, f, a.stores, notify, a.metrics, processor.PipelineConfig{
		BaseURL:         c.BaseURL,
		ListingPath:     c.ListingPath,
		DiscoveryWindow: c.DiscoveryWindow,
		Workers:         c.Workers,
	})
}

func (a *app) worker(p *processor.Pipeline) *scheduler.Worker {
	return &scheduler.Worker{
		Log:        a.log.Named("scheduler"),
		Spec:       a.cfg.Scheduler.Cron,
		Location:   helper.Location(),
		RunOnStart: a.cfg.Scheduler.RunOnStart,
		Job:        detectJob(p),
	}
}

func (a *app) close() {
	if a.stores != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.stores.DB.Client().Disconnect(ctx); err != nil {
			a.log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
