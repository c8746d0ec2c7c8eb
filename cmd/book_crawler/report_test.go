package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/processor"
)

func TestPrintRunReport_Detect(t *testing.T) {
	started := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	report := &processor.RunReport{
		RunID:             "run-1",
		Kind:              processor.KindDetect,
		StartedAt:         started,
		FinishedAt:        started.Add(90 * time.Second),
		Pages:             50,
		Discovered:        1000,
		DiscoveryComplete: true,
		NotifyError:       "smtp: connection refused",
		Reconcile: &processor.ReconcileReport{
			Checked:   1000,
			Unchanged: 998,
			Changed:   1,
			Failed:    1,
			Changes: []model.ChangeEntry{
				{ItemID: "book_124", FieldChanged: "price_incl_tax", OldValue: "51.77", NewValue: "99.5"},
				{ItemID: "book_124", FieldChanged: "description", OldValue: strings.Repeat("x", 100), NewValue: "short"},
			},
			Failures: []processor.ItemFailure{
				{ID: "book_7", URL: "https://example.test/book_7/index.html", Cause: "fetch: status 503 after 3 attempt(s)"},
			},
		},
	}

	var buf bytes.Buffer
	PrintRunReport(&buf, report)
	out := buf.String()

	assert.Contains(t, strings.ToLower(out), "run run-1 (detect)")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "smtp: connection refused")
	assert.Contains(t, out, "99.5")
	assert.Contains(t, out, strings.Repeat("x", 57)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 58))
	assert.Contains(t, out, "status 503 after 3 attempt(s)")
}

func TestPrintRunReport_CrawlTruncatesFailures(t *testing.T) {
	crawl := &processor.CrawlReport{Discovered: 80, Failed: 60}
	for i := 0; i < 60; i++ {
		crawl.Failures = append(crawl.Failures, processor.ItemFailure{ID: "b", Cause: "fetch failed"})
	}

	var buf bytes.Buffer
	PrintRunReport(&buf, &processor.RunReport{RunID: "run-2", Kind: processor.KindCrawl, Crawl: crawl})

	out := buf.String()
	assert.Equal(t, maxPrintedRows, strings.Count(out, "fetch failed"))
	assert.Contains(t, strings.ToLower(out), "... 10 more")
}

func TestPrintRunReport_Nil(t *testing.T) {
	var buf bytes.Buffer
	PrintRunReport(&buf, nil)
	assert.Zero(t, buf.Len())
}

func TestHashKeyCommand(t *testing.T) {
	root := newRootCommand(&app{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"hashkey", "s3cret"})

	require.NoError(t, root.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestHashKeyCommand_RequiresArg(t *testing.T) {
	root := newRootCommand(&app{})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"hashkey"})

	assert.Error(t, root.Execute())
}

func TestConfigLoadError(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawler: ["), 0o600))

	root := newRootCommand(&app{})
	root.SetArgs([]string{"detect", "--config", path})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
