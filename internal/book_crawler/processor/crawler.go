package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/helper"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/metrics"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

// CrawlReport 初始抓取（或续抓）的汇总
type CrawlReport struct {
	Discovered int           `json:"discovered"`
	Skipped    int           `json:"skipped"`
	Saved      int           `json:"saved"`
	Failed     int           `json:"failed"`
	Failures   []ItemFailure `json:"failures,omitempty"`
}

// Crawler 只抓取存储中还没有的条目
type Crawler struct {
	Log     *zap.Logger
	Fetcher Fetcher
	Store   Store
	Metrics *metrics.Metrics
	Workers int

	now func() time.Time
}

// RunInitialCrawl 抓取 discovered 中不在 knownIDs 里的条目。
// 已知条目（包括上次记为 failed 的）一律跳过，所以重复运行不会重复抓取。
// discovered 中重复的 ID 只抓取一次，其余计为跳过。
func (c *Crawler) RunInitialCrawl(ctx context.Context, discovered []model.ItemStub, knownIDs map[string]struct{}) (*CrawlReport, error) {
	missing := make([]model.ItemStub, 0, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	for _, stub := range discovered {
		if _, ok := knownIDs[stub.ID]; ok {
			continue
		}
		if _, dup := seen[stub.ID]; dup {
			continue
		}
		seen[stub.ID] = struct{}{}
		missing = append(missing, stub)
	}

	c.Log.Info("Starting crawl",
		zap.Int("discovered", len(discovered)),
		zap.Int("skipped", len(discovered)-len(missing)),
		zap.Int("missing", len(missing)),
	)

	report, err := c.SaveNew(ctx, missing)
	report.Discovered = len(discovered)
	report.Skipped += len(discovered) - len(missing)

	c.Log.Info("Crawl finished",
		zap.Int("saved", report.Saved),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, err
}

// SaveNew 并发抓取并插入 stubs。抓取/解析失败写入 failed 记录；
// 主键冲突（其他运行已经写入）计为跳过；存储错误停止调度并在在途任务结束后返回。
func (c *Crawler) SaveNew(ctx context.Context, stubs []model.ItemStub) (*CrawlReport, error) {
	report := &CrawlReport{Discovered: len(stubs)}
	if len(stubs) == 0 {
		return report, nil
	}

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		storeErr error
	)

	g := new(errgroup.Group)
	g.SetLimit(workerLimit(c.Workers))

	for _, stub := range stubs {
		if schedCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if schedCtx.Err() != nil {
				return nil
			}
			// 在途任务不随调用方取消而中断，由 HTTP 超时兜底
			status, failure, err := c.saveOne(context.WithoutCancel(ctx), stub)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if storeErr == nil {
					storeErr = err
				}
				cancel()
			case status == "":
				report.Skipped++
			case status == model.FetchSuccess:
				report.Saved++
			default:
				report.Failed++
				report.Failures = append(report.Failures, *failure)
			}
			return nil
		})
	}
	_ = g.Wait()

	if storeErr != nil {
		c.Log.Error("Crawl aborted by store error", zap.Error(storeErr))
		return report, storeErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// saveOne 返回写入的状态；status 为空表示已被其他运行写入
func (c *Crawler) saveOne(ctx context.Context, stub model.ItemStub) (model.FetchStatus, *ItemFailure, error) {
	at := c.clock()

	book, fetchErr := fetchBook(ctx, c.Fetcher, stub, at)
	var failure *ItemFailure
	if fetchErr != nil {
		c.Log.Warn("Failed to fetch item",
			zap.String("itemId", stub.ID),
			zap.String("url", stub.DetailURL),
			zap.Error(fetchErr),
		)
		f := newItemFailure(stub, fetchErr)
		failure = &f
		book = failedBook(stub, fetchErr, at)
	}

	if err := c.Store.InsertBook(ctx, book); err != nil {
		if errors.Is(err, helper.ErrDuplicate) {
			c.Log.Debug("Item already saved by another run", zap.String("itemId", stub.ID))
			return "", nil, nil
		}
		return "", nil, &StoreError{Op: "insert", ID: stub.ID, Err: err}
	}

	c.Metrics.ItemSaved(string(book.FetchStatus))
	return book.FetchStatus, failure, nil
}

func (c *Crawler) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return nowUTC()
}
