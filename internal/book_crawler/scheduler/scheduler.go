package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSpec = "0 3 * * *"

// Job 一次定时任务
type Job func(ctx context.Context) error

type Worker struct {
	Log        *zap.Logger
	Spec       string         // 5 段 cron 表达式，也支持 @daily / @every
	Location   *time.Location // 为空时用 UTC
	RunOnStart bool
	Job        Job
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Run 按 Spec 周期执行 Job，直到 ctx 取消；返回前等待正在执行的任务结束。
// 上一次还没跑完时跳过本次。
func (w *Worker) Run(ctx context.Context) error {
	spec := w.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{s: w.Log.Sugar()}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(schedule, cron.FuncJob(func() { w.runOnce(ctx) }))

	if w.RunOnStart {
		w.runOnce(ctx)
	}

	c.Start()
	w.Log.Info("Scheduler started",
		zap.String("spec", spec),
		zap.String("location", loc.String()),
		zap.Time("next", schedule.Next(time.Now().In(loc))),
	)

	<-ctx.Done()
	w.Log.Info("Waiting for running job to complete...")
	<-c.Stop().Done()
	w.Log.Info("Scheduler stopped")
	return nil
}

func (w *Worker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := w.Job(ctx); err != nil {
		w.Log.Error("Scheduled job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	w.Log.Info("Scheduled job finished", zap.Duration("elapsed", time.Since(start)))
}

// cronLogger 把 cron 的内部日志转给 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
