package processor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/catalogtest"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/fetcher"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/helper"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

var testTime = time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testTime }

// memStore 内存实现的 Store
type memStore struct {
	mu      sync.Mutex
	books   map[string]*model.Book
	changes []model.ChangeEntry

	insertErr  error
	replaceErr error
	appendErr  error
	inserts    int
	replaces   int
}

func newMemStore(books ...*model.Book) *memStore {
	s := &memStore{books: make(map[string]*model.Book)}
	for _, b := range books {
		cp := *b
		s.books[b.ID] = &cp
	}
	return s
}

func (s *memStore) KnownIDs(context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.books))
	for id := range s.books {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *memStore) AllBooks(context.Context) ([]*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Book, 0, len(s.books))
	for _, b := range s.books {
		cp := *b
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.Book) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *memStore) InsertBook(_ context.Context, b *model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.books[b.ID]; ok {
		return fmt.Errorf("insert book %s: %w", b.ID, helper.ErrDuplicate)
	}
	cp := *b
	s.books[b.ID] = &cp
	s.inserts++
	return nil
}

func (s *memStore) ReplaceBook(_ context.Context, id string, b *model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	if _, ok := s.books[id]; !ok {
		return helper.ErrNotFound
	}
	cp := *b
	s.books[id] = &cp
	s.replaces++
	return nil
}

func (s *memStore) AppendChanges(_ context.Context, entries ...model.ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.changes = append(s.changes, entries...)
	return nil
}

func (s *memStore) get(id string) *model.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.books[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}

// recordingNotifier 记录收到的变更
type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]model.ChangeEntry
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, changes []model.ChangeEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, changes)
	return n.err
}

func newTestFetcher() *fetcher.Client {
	return fetcher.New(fetcher.Options{
		UserAgent: "TestBot/1.0",
		Timeout:   5 * time.Second,
		Policy: fetcher.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	})
}

func newBooks(n int) []*model.Book {
	books := make([]*model.Book, n)
	for i := range books {
		books[i] = catalogtest.NewBook(i)
	}
	return books
}

// storedCopy 站点上某本书在存储中的样子（与上次抓取一致）
func storedCopy(site *catalogtest.Site, b *model.Book) *model.Book {
	cp := *b
	cp.SourceURL = site.DetailURL(b.ID)
	cp.FetchStatus = model.FetchSuccess
	cp.FetchedAt = testTime.Add(-24 * time.Hour)
	cp.Fingerprint = model.Fingerprint(&cp)
	return &cp
}

func newTestCrawler(f Fetcher, store Store) *Crawler {
	return &Crawler{
		Log:     zap.NewNop(),
		Fetcher: f,
		Store:   store,
		Workers: 8,
		now:     fixedClock,
	}
}

func newTestReconciler(f Fetcher, store Store) *Reconciler {
	return &Reconciler{
		Log:     zap.NewNop(),
		Fetcher: f,
		Store:   store,
		Crawler: newTestCrawler(f, store),
		Workers: 16,
		now:     fixedClock,
	}
}

func requireStoreError(t *testing.T, err error) *StoreError {
	t.Helper()
	var se *StoreError
	require.ErrorAs(t, err, &se)
	return se
}
