// Package notifier 变更检测后的通知：日志、邮件，以及组合多个通知器。
package notifier

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

// Notifier 与 processor.ChangeNotifier 相同
type Notifier interface {
	Notify(ctx context.Context, changes []model.ChangeEntry) error
}

// LogNotifier 把变更摘要写进日志
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, changes []model.ChangeEntry) error {
	summary := Summarize(changes)
	fields := make([]zap.Field, 0, len(summary.ByField)+2)
	fields = append(fields, zap.Int("changes", len(changes)), zap.Int("items", summary.Items))
	for _, fc := range summary.ByField {
		fields = append(fields, zap.Int(fc.Field, fc.Count))
	}
	n.Log.Info("Changes detected", fields...)
	return nil
}

// Multi 依次调用每个通知器，返回合并后的错误
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, changes []model.ChangeEntry) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, changes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FieldCount 某个字段的变更次数
type FieldCount struct {
	Field string
	Count int
}

// Summary 变更汇总
type Summary struct {
	Total   int
	Items   int
	ByField []FieldCount // 次数多的在前，相同时按字段名
}

// Summarize 统计变更涉及的条目数和各字段次数
func Summarize(changes []model.ChangeEntry) Summary {
	items := make(map[string]struct{})
	counts := make(map[string]int)
	for _, c := range changes {
		items[c.ItemID] = struct{}{}
		counts[c.FieldChanged]++
	}

	s := Summary{Total: len(changes), Items: len(items)}
	for f, n := range counts {
		s.ByField = append(s.ByField, FieldCount{Field: f, Count: n})
	}
	sort.Slice(s.ByField, func(i, j int) bool {
		if s.ByField[i].Count != s.ByField[j].Count {
			return s.ByField[i].Count > s.ByField[j].Count
		}
		return s.ByField[i].Field < s.ByField[j].Field
	})
	return s
}
