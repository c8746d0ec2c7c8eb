package processor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/metrics"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/parser"
)

const (
	DefaultListingPath     = "catalogue/page-%d.html"
	DefaultDiscoveryWindow = 4
)

// DiscoveryResult 一次发现的结果。Complete 为 false 时 Err 说明中断原因，
// Stubs 仍包含中断前收集到的全部条目。
type DiscoveryResult struct {
	Stubs    []model.ItemStub
	Pages    int
	Complete bool
	Err      error
}

// Discoverer 从第 1 页开始遍历列表页
type Discoverer struct {
	Log     *zap.Logger
	Fetcher Fetcher
	Metrics *metrics.Metrics

	BaseURL     string
	ListingPath string // fmt 格式，参数为页码
	Window      int    // 同时抓取的列表页数量
}

type listingResult struct {
	listing *parser.Listing
	err     error
}

// Discover 按窗口并发抓取列表页，但严格按页码顺序判断是否结束：
// 空页或最后一页为完整结束；抓取失败、解析失败或取消为不完整结束。
func (d *Discoverer) Discover(ctx context.Context) *DiscoveryResult {
	window := d.Window
	if window <= 0 {
		window = DefaultDiscoveryWindow
	}

	res := &DiscoveryResult{}
	seen := make(map[string]struct{})

	for start := 1; ; start += window {
		if err := ctx.Err(); err != nil {
			res.Err = err
			d.Log.Warn("Discovery cancelled", zap.Int("pages", res.Pages), zap.Error(err))
			return res
		}

		results := make([]listingResult, window)
		g := new(errgroup.Group)
		g.SetLimit(window)
		for i := range window {
			g.Go(func() error {
				results[i] = d.fetchListing(ctx, start+i)
				return nil
			})
		}
		_ = g.Wait()

		for i, r := range results {
			page := start + i
			if r.err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					res.Err = ctxErr
				} else {
					res.Err = fmt.Errorf("listing page %d: %w", page, r.err)
				}
				d.Metrics.ListingPage("error")
				d.Log.Warn("Discovery stopped before end of catalog",
					zap.Int("page", page),
					zap.Int("found", len(res.Stubs)),
					zap.Error(r.err),
				)
				return res
			}

			res.Pages++
			if len(r.listing.Stubs) == 0 {
				d.Metrics.ListingPage("empty")
				res.Complete = true
				d.Log.Info("Discovery complete", zap.Int("pages", res.Pages), zap.Int("found", len(res.Stubs)))
				return res
			}

			d.Metrics.ListingPage("ok")
			for _, stub := range r.listing.Stubs {
				if _, dup := seen[stub.ID]; dup {
					continue
				}
				seen[stub.ID] = struct{}{}
				res.Stubs = append(res.Stubs, stub)
			}

			if !r.listing.HasNext {
				res.Complete = true
				d.Log.Info("Discovery complete", zap.Int("pages", res.Pages), zap.Int("found", len(res.Stubs)))
				return res
			}
		}
	}
}

func (d *Discoverer) fetchListing(ctx context.Context, page int) listingResult {
	pageURL := d.ListingURL(page)
	p, err := d.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return listingResult{err: err}
	}
	listing, err := parser.ParseListing(p.Body, pageURL)
	if err != nil {
		return listingResult{err: err}
	}
	return listingResult{listing: listing}
}

// ListingURL 第 page 页列表的绝对地址
func (d *Discoverer) ListingURL(page int) string {
	listingPath := d.ListingPath
	if listingPath == "" {
		listingPath = DefaultListingPath
	}
	return strings.TrimSuffix(d.BaseURL, "/") + "/" + strings.TrimPrefix(fmt.Sprintf(listingPath, page), "/")
}
