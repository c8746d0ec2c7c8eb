package processor

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/catalogtest"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

// 999 本已知 + 1 本新书，其中一本价格变化
func TestRunReconciliation_NewItemAndPriceChange(t *testing.T) {
	books := newBooks(1000)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	existing := make([]*model.Book, 0, 999)
	for _, b := range books[:999] {
		existing = append(existing, storedCopy(site, b))
	}
	store := newMemStore(existing...)

	target := books[123]
	oldPrice := model.FieldValue(target, "price_incl_tax")
	site.Update(target.ID, func(b *model.Book) { b.PriceInclTax = 99.5 })

	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs(), existing)
	require.NoError(t, err)

	require.Len(t, report.NewItems, 1)
	assert.Equal(t, books[999].ID, report.NewItems[0].ID)
	require.NotNil(t, report.NewItemsReport)
	assert.Equal(t, 1, report.NewItemsReport.Saved)

	assert.Equal(t, 999, report.Checked)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 998, report.Unchanged)
	assert.Zero(t, report.Failed)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, model.ChangeEntry{
		ItemID:       target.ID,
		Timestamp:    testTime,
		FieldChanged: "price_incl_tax",
		OldValue:     oldPrice,
		NewValue:     "99.5",
	}, report.Changes[0])
	assert.Equal(t, report.Changes, store.changes)

	updated := store.get(target.ID)
	assert.Equal(t, 99.5, updated.PriceInclTax)
	assert.Equal(t, model.Fingerprint(updated), updated.Fingerprint)
	assert.Equal(t, 1000, store.count())
	assert.Equal(t, 1, store.replaces)
}

func TestRunReconciliation_DiffCompleteness(t *testing.T) {
	books := newBooks(5)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	existing := make([]*model.Book, 0, len(books))
	for _, b := range books {
		existing = append(existing, storedCopy(site, b))
	}
	store := newMemStore(existing...)

	site.Update(books[2].ID, func(b *model.Book) {
		b.Rating = 5
		b.Name = "Renamed"
		b.Availability = "In stock (1 available)"
	})
	site.Update(books[0].ID, func(b *model.Book) { b.NumReviews = 42 })

	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs(), existing)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Changed)

	var got [][2]string
	for _, c := range report.Changes {
		got = append(got, [2]string{c.ItemID, c.FieldChanged})
	}
	// 按 ID、再按字段顺序排列
	assert.Equal(t, [][2]string{
		{books[0].ID, "num_reviews"},
		{books[2].ID, "name"},
		{books[2].ID, "availability"},
		{books[2].ID, "rating"},
	}, got)
}

func TestRunReconciliation_FetchFailureLeavesRecordUntouched(t *testing.T) {
	books := newBooks(3)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	existing := []*model.Book{storedCopy(site, books[0]), storedCopy(site, books[1]), storedCopy(site, books[2])}
	untouched := *existing[1]
	store := newMemStore(existing...)

	site.Update(books[0].ID, func(b *model.Book) { b.PriceInclTax = 12.5 })
	site.Update(books[1].ID, func(b *model.Book) { b.Rating = 1 })
	site.Update(books[2].ID, func(b *model.Book) { b.Category = "Travel" })
	site.Fail("/catalogue/"+books[1].ID+"/index.html", http.StatusBadGateway)

	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs(), existing)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, books[1].ID, report.Failures[0].ID)

	// 其他条目的变化照常写入
	assert.Equal(t, 2, report.Changed)
	require.Len(t, report.Changes, 2)
	assert.Equal(t, books[0].ID, report.Changes[0].ItemID)
	assert.Equal(t, "price_incl_tax", report.Changes[0].FieldChanged)
	assert.Equal(t, "12.5", report.Changes[0].NewValue)
	assert.Equal(t, books[2].ID, report.Changes[1].ItemID)
	assert.Equal(t, "category", report.Changes[1].FieldChanged)
	assert.Equal(t, "Travel", report.Changes[1].NewValue)
	assert.ElementsMatch(t, report.Changes, store.changes)

	assert.Equal(t, 2, store.replaces)
	assert.Equal(t, 12.5, store.get(books[0].ID).PriceInclTax)
	assert.Equal(t, "Travel", store.get(books[2].ID).Category)
	assert.Equal(t, &untouched, store.get(books[1].ID))
}

func TestRunReconciliation_HealsFailedRow(t *testing.T) {
	books := newBooks(2)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	failed := &model.Book{
		ID:          books[1].ID,
		SourceURL:   site.DetailURL(books[1].ID),
		FetchStatus: model.FetchFailed,
		FetchError:  "status 503 after 3 attempt(s)",
	}
	existing := []*model.Book{storedCopy(site, books[0]), failed}
	store := newMemStore(existing...)

	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs(), existing)
	require.NoError(t, err)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, model.ChangeEntry{
		ItemID:       books[1].ID,
		Timestamp:    testTime,
		FieldChanged: model.FieldFetchStatus,
		OldValue:     "failed",
		NewValue:     "success",
	}, report.Changes[0])

	healed := store.get(books[1].ID)
	assert.Equal(t, model.FetchSuccess, healed.FetchStatus)
	assert.Empty(t, healed.FetchError)
	assert.Equal(t, books[1].Name, healed.Name)
}

func TestRunReconciliation_CountsMissingItems(t *testing.T) {
	books := newBooks(3)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	existing := []*model.Book{storedCopy(site, books[0]), storedCopy(site, books[1]), storedCopy(site, books[2])}
	store := newMemStore(existing...)

	// 只发现了前两本
	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs()[:2], existing)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Missing)
	assert.Empty(t, report.NewItems)
	assert.Nil(t, report.NewItemsReport)
}

func TestRunReconciliation_AppendFailureIsFatal(t *testing.T) {
	books := newBooks(4)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	existing := make([]*model.Book, 0, len(books))
	for _, b := range books {
		existing = append(existing, storedCopy(site, b))
	}
	store := newMemStore(existing...)
	store.appendErr = errors.New("write concern timeout")

	site.Update(books[0].ID, func(b *model.Book) { b.Description = "new blurb" })

	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs(), existing)
	se := requireStoreError(t, err)
	assert.Equal(t, "append changes", se.Op)
	assert.Equal(t, books[0].ID, se.ID)
	require.NotNil(t, report)
	// 变更日志写失败时不替换记录
	assert.Zero(t, store.replaces)
	assert.Equal(t, existing[0], store.get(books[0].ID))
}

func TestRunReconciliation_NewItemStoreErrorIsFatal(t *testing.T) {
	books := newBooks(3)
	site := catalogtest.NewSite(20, books)
	defer site.Close()

	existing := []*model.Book{storedCopy(site, books[0])}
	store := newMemStore(existing...)
	store.insertErr = errors.New("disk full")

	report, err := newTestReconciler(newTestFetcher(), store).RunReconciliation(context.Background(), site.Stubs(), existing)
	requireStoreError(t, err)
	require.NotNil(t, report.NewItemsReport)
	assert.Len(t, report.NewItems, 2)
	assert.Zero(t, report.Checked)
}
