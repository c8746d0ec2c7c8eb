package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/processor"
)

// maxPrintedRows 变更和失败表最多打印的行数
const maxPrintedRows = 50

// PrintRunReport 以表格形式输出运行汇总；report 为空时什么也不做
func PrintRunReport(w io.Writer, r *processor.RunReport) {
	if r == nil {
		return
	}

	t := newTable(w, fmt.Sprintf("Run %s (%s)", r.RunID, r.Kind))
	t.AppendRows([]table.Row{
		{"Started", r.StartedAt.Format(time.RFC3339)},
		{"Elapsed", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)},
		{"Listing pages", r.Pages},
		{"Discovered", r.Discovered},
		{"Discovery complete", r.DiscoveryComplete},
	})
	if r.DiscoveryError != "" {
		t.AppendRow(table.Row{"Discovery error", r.DiscoveryError})
	}
	if r.NotifyError != "" {
		t.AppendRow(table.Row{"Notify error", r.NotifyError})
	}

	var failures []processor.ItemFailure
	if c := r.Crawl; c != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Skipped", c.Skipped},
			{"Saved", c.Saved},
			{"Failed", c.Failed},
		})
		failures = append(failures, c.Failures...)
	}
	if rc := r.Reconcile; rc != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"New items", len(rc.NewItems)},
			{"Checked", rc.Checked},
			{"Unchanged", rc.Unchanged},
			{"Changed", rc.Changed},
			{"Failed", rc.Failed},
			{"Missing from catalog", rc.Missing},
			{"Change entries", len(rc.Changes)},
		})
		if nr := rc.NewItemsReport; nr != nil {
			failures = append(failures, nr.Failures...)
		}
		failures = append(failures, rc.Failures...)
	}
	t.Render()

	if rc := r.Reconcile; rc != nil && len(rc.Changes) > 0 {
		ct := newTable(w, "Changes")
		ct.AppendHeader(table.Row{"Item", "Field", "Old", "New"})
		for i, e := range rc.Changes {
			if i == maxPrintedRows {
				ct.AppendFooter(table.Row{fmt.Sprintf("... %d more", len(rc.Changes)-maxPrintedRows)})
				break
			}
			ct.AppendRow(table.Row{e.ItemID, e.FieldChanged, truncate(e.OldValue), truncate(e.NewValue)})
		}
		ct.Render()
	}

	if len(failures) > 0 {
		ft := newTable(w, "Failures")
		ft.AppendHeader(table.Row{"Item", "URL", "Cause"})
		for i, f := range failures {
			if i == maxPrintedRows {
				ft.AppendFooter(table.Row{fmt.Sprintf("... %d more", len(failures)-maxPrintedRows)})
				break
			}
			ft.AppendRow(table.Row{f.ID, f.URL, f.Cause})
		}
		ft.Render()
	}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s", title)
	return t
}

// truncate 描述等长字段只显示开头
func truncate(s string) string {
	const limit = 60
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
