package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/fetcher"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/parser"
)

// DefaultWorkers 单次运行中同时抓取详情页的数量
const DefaultWorkers = 8

// Fetcher 抓取一个页面；*fetcher.Client 实现了它
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Page, error)
}

// Store 编排器依赖的存储操作；helper.Stores 基于 MongoDB 实现
type Store interface {
	KnownIDs(ctx context.Context) (map[string]struct{}, error)
	AllBooks(ctx context.Context) ([]*model.Book, error)
	InsertBook(ctx context.Context, b *model.Book) error
	ReplaceBook(ctx context.Context, id string, b *model.Book) error
	AppendChanges(ctx context.Context, entries ...model.ChangeEntry) error
}

// ChangeNotifier 检测到变更后的通知出口
type ChangeNotifier interface {
	Notify(ctx context.Context, changes []model.ChangeEntry) error
}

// StoreError 存储失败，对本次运行是致命的
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError 判断 err 链上是否有 *StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ItemFailure 单个条目的抓取/解析失败
type ItemFailure struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Cause string `json:"cause"`
	Err   error  `json:"-"`
}

func newItemFailure(stub model.ItemStub, err error) ItemFailure {
	return ItemFailure{ID: stub.ID, URL: stub.DetailURL, Cause: err.Error(), Err: err}
}

// fetchBook 抓取并解析一个详情页，填好状态、时间戳和指纹
func fetchBook(ctx context.Context, f Fetcher, stub model.ItemStub, at time.Time) (*model.Book, error) {
	page, err := f.Fetch(ctx, stub.DetailURL)
	if err != nil {
		return nil, err
	}

	book, err := parser.ParseDetail(page.Body, stub.DetailURL)
	if err != nil {
		return nil, err
	}

	book.ID = stub.ID
	book.FetchStatus = model.FetchSuccess
	book.FetchedAt = at
	book.Fingerprint = model.Fingerprint(book)
	return book, nil
}

// failedBook 抓取失败时写入的占位记录
func failedBook(stub model.ItemStub, cause error, at time.Time) *model.Book {
	return &model.Book{
		ID:          stub.ID,
		SourceURL:   stub.DetailURL,
		FetchStatus: model.FetchFailed,
		FetchError:  cause.Error(),
		FetchedAt:   at,
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func workerLimit(n int) int {
	if n <= 0 {
		return DefaultWorkers
	}
	return n
}
