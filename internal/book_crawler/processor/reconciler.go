package processor

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/metrics"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

// ReconcileReport 一次变更检测的汇总
type ReconcileReport struct {
	NewItems       []model.ItemStub    `json:"new_items"`
	Changes        []model.ChangeEntry `json:"changes"`
	Checked        int                 `json:"checked"`
	Unchanged      int                 `json:"unchanged"`
	Changed        int                 `json:"changed"`
	Failed         int                 `json:"failed"`
	Missing        int                 `json:"missing"` // 存储中有但本次未发现
	Failures       []ItemFailure       `json:"failures,omitempty"`
	NewItemsReport *CrawlReport        `json:"new_items_report,omitempty"`
}

// Reconciler 重新抓取已知条目并记录字段级变化
type Reconciler struct {
	Log     *zap.Logger
	Fetcher Fetcher
	Store   Store
	Crawler *Crawler
	Metrics *metrics.Metrics
	Workers int

	now func() time.Time
}

type checkResult int

const (
	checkUnchanged checkResult = iota
	checkChanged
	checkFailed
)

// RunReconciliation 新条目交给 Crawler.SaveNew；已知条目重新抓取，
// 指纹不同则先追加变更日志再替换记录。单个条目失败不影响存储中的记录。
func (r *Reconciler) RunReconciliation(ctx context.Context, discovered []model.ItemStub, existing []*model.Book) (*ReconcileReport, error) {
	byID := make(map[string]*model.Book, len(existing))
	for _, b := range existing {
		byID[b.ID] = b
	}

	report := &ReconcileReport{}
	known := make([]model.ItemStub, 0, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	for _, stub := range discovered {
		seen[stub.ID] = struct{}{}
		if _, ok := byID[stub.ID]; ok {
			known = append(known, stub)
		} else {
			report.NewItems = append(report.NewItems, stub)
		}
	}
	for id := range byID {
		if _, ok := seen[id]; !ok {
			report.Missing++
		}
	}

	r.Log.Info("Starting change detection",
		zap.Int("discovered", len(discovered)),
		zap.Int("known", len(known)),
		zap.Int("new", len(report.NewItems)),
		zap.Int("missing", report.Missing),
	)

	if len(report.NewItems) > 0 {
		newReport, err := r.Crawler.SaveNew(ctx, report.NewItems)
		report.NewItemsReport = newReport
		if err != nil {
			return report, err
		}
	}

	if err := r.checkKnown(ctx, known, byID, report); err != nil {
		sortChanges(report.Changes)
		return report, err
	}
	sortChanges(report.Changes)

	r.Log.Info("Change detection finished",
		zap.Int("checked", report.Checked),
		zap.Int("changed", report.Changed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Int("changes", len(report.Changes)),
	)
	return report, nil
}

func (r *Reconciler) checkKnown(ctx context.Context, known []model.ItemStub, byID map[string]*model.Book, report *ReconcileReport) error {
	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		storeErr error
	)

	g := new(errgroup.Group)
	g.SetLimit(workerLimit(r.Workers))

	for _, stub := range known {
		if schedCtx.Err() != nil {
			break
		}
		old := byID[stub.ID]
		g.Go(func() error {
			if schedCtx.Err() != nil {
				return nil
			}
			res, changes, failure, err := r.checkOne(context.WithoutCancel(ctx), stub, old)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if storeErr == nil {
					storeErr = err
				}
				cancel()
				return nil
			}
			report.Checked++
			switch res {
			case checkUnchanged:
				report.Unchanged++
			case checkChanged:
				report.Changed++
				report.Changes = append(report.Changes, changes...)
			case checkFailed:
				report.Failed++
				report.Failures = append(report.Failures, *failure)
			}
			return nil
		})
	}
	_ = g.Wait()

	if storeErr != nil {
		r.Log.Error("Change detection aborted by store error", zap.Error(storeErr))
		return storeErr
	}
	return ctx.Err()
}

func (r *Reconciler) checkOne(ctx context.Context, stub model.ItemStub, old *model.Book) (checkResult, []model.ChangeEntry, *ItemFailure, error) {
	at := r.clock()

	cur, err := fetchBook(ctx, r.Fetcher, stub, at)
	if err != nil {
		r.Log.Warn("Failed to re-fetch item",
			zap.String("itemId", stub.ID),
			zap.String("url", stub.DetailURL),
			zap.Error(err),
		)
		f := newItemFailure(stub, err)
		return checkFailed, nil, &f, nil
	}

	var changes []model.ChangeEntry
	if old.Failed() {
		// 之前只存了失败占位，逐字段比较没有意义
		changes = []model.ChangeEntry{{
			ItemID:       stub.ID,
			Timestamp:    at,
			FieldChanged: model.FieldFetchStatus,
			OldValue:     string(model.FetchFailed),
			NewValue:     string(model.FetchSuccess),
		}}
	} else {
		oldFingerprint := old.Fingerprint
		if oldFingerprint == "" {
			oldFingerprint = model.Fingerprint(old)
		}
		if oldFingerprint == cur.Fingerprint {
			return checkUnchanged, nil, nil, nil
		}
		changes = model.Diff(old, cur, at)
	}

	if len(changes) > 0 {
		if err := r.Store.AppendChanges(ctx, changes...); err != nil {
			return 0, nil, nil, &StoreError{Op: "append changes", ID: stub.ID, Err: err}
		}
	}
	if err := r.Store.ReplaceBook(ctx, stub.ID, cur); err != nil {
		return 0, nil, nil, &StoreError{Op: "replace", ID: stub.ID, Err: err}
	}

	if len(changes) == 0 {
		// 指纹格式变化但字段一致，只刷新记录
		return checkUnchanged, nil, nil, nil
	}

	for _, c := range changes {
		r.Metrics.ChangeFound(c.FieldChanged)
	}
	r.Log.Info("Change detected",
		zap.String("itemId", stub.ID),
		zap.Int("fields", len(changes)),
	)
	return checkChanged, changes, nil, nil
}

func (r *Reconciler) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return nowUTC()
}

// fieldRank 变更按 FingerprintFields 的顺序排列，fetch_status 排在最前
var fieldRank = func() map[string]int {
	m := map[string]int{model.FieldFetchStatus: -1}
	for i, f := range model.FingerprintFields {
		m[f] = i
	}
	return m
}()

func sortChanges(changes []model.ChangeEntry) {
	slices.SortStableFunc(changes, func(a, b model.ChangeEntry) int {
		if c := cmp.Compare(a.ItemID, b.ItemID); c != 0 {
			return c
		}
		return cmp.Compare(fieldRank[a.FieldChanged], fieldRank[b.FieldChanged])
	})
}
