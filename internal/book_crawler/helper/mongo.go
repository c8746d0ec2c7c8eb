package helper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/pkg/config"
)

const (
	BooksCollName   = "books"
	ChangesCollName = "change_log"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate id")
)

type Stores struct {
	DB      *mongo.Database
	Books   *mongo.Collection // 固定集合：books，_id 为图书 ID
	Changes *mongo.Collection // 固定集合：change_log，只追加
}

// MustMongo 连接并 ping，失败直接 panic（启动阶段使用）
func MustMongo(ctx context.Context, cfg config.MongoConfig) *Stores {
	clientOpts := options.Client().ApplyURI(cfg.ConnectionURI())
	if cfg.URI == "" && cfg.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}

	cli, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		panic(err)
	}
	if err = cli.Ping(ctx, nil); err != nil {
		panic(err)
	}

	s := NewStores(cli.Database(cfg.DBName))
	if err := s.EnsureIndexes(ctx); err != nil {
		panic(err)
	}
	return s
}

// NewStores 基于已有的 Database 构造
func NewStores(db *mongo.Database) *Stores {
	return &Stores{
		DB:      db,
		Books:   db.Collection(BooksCollName),
		Changes: db.Collection(ChangesCollName),
	}
}

// EnsureIndexes 创建查询和去重用的索引
func (s *Stores) EnsureIndexes(ctx context.Context) error {
	_, err := s.Books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{
			{Key: "category", Value: 1},
			{Key: "price_incl_tax", Value: 1},
			{Key: "rating", Value: -1},
		}},
	})
	if err != nil {
		return fmt.Errorf("create books indexes: %w", err)
	}

	_, err = s.Changes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "item_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create change_log indexes: %w", err)
	}
	return nil
}

// -------- 编排器使用的存储操作 --------

// KnownIDs 所有已存图书的 ID（包括 failed 记录）
func (s *Stores) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	cur, err := s.Books.Find(ctx, bson.D{}, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find ids: %w", err)
	}
	defer cur.Close(ctx)

	ids := make(map[string]struct{})
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode id: %w", err)
		}
		ids[doc.ID] = struct{}{}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// AllBooks 所有已存图书，不含原始快照
func (s *Stores) AllBooks(ctx context.Context) ([]*model.Book, error) {
	cur, err := s.Books.Find(ctx, bson.D{}, options.Find().SetProjection(withoutSnapshot))
	if err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}
	var books []*model.Book
	if err := cur.All(ctx, &books); err != nil {
		return nil, fmt.Errorf("decode books: %w", err)
	}
	return books, nil
}

// InsertBook 插入新图书；_id 冲突时返回 ErrDuplicate
func (s *Stores) InsertBook(ctx context.Context, b *model.Book) error {
	if _, err := s.Books.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert book %s: %w", b.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert book %s: %w", b.ID, err)
	}
	return nil
}

// ReplaceBook 用新抓取的记录整体替换；记录不存在时返回 ErrNotFound
func (s *Stores) ReplaceBook(ctx context.Context, id string, b *model.Book) error {
	res, err := s.Books.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, b)
	if err != nil {
		return fmt.Errorf("replace book %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("replace book %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendChanges 追加变更日志
func (s *Stores) AppendChanges(ctx context.Context, entries ...model.ChangeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}
	if _, err := s.Changes.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert %d changes: %w", len(entries), err)
	}
	return nil
}

// -------- API 查询 --------

var withoutSnapshot = bson.D{{Key: "raw_snapshot", Value: 0}}

// BookQuery /books 的过滤、排序和分页参数（已校验）
type BookQuery struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
	Rating   int
	SortBy   string
	SortDesc bool
	Page     int
	Limit    int
}

// Filter 转为 Mongo 过滤条件
func (q BookQuery) Filter() bson.D {
	filter := bson.D{}
	if q.Category != "" {
		filter = append(filter, bson.E{Key: "category", Value: q.Category})
	}
	if q.Rating > 0 {
		filter = append(filter, bson.E{Key: "rating", Value: q.Rating})
	}
	price := bson.D{}
	if q.MinPrice != nil {
		price = append(price, bson.E{Key: "$gte", Value: *q.MinPrice})
	}
	if q.MaxPrice != nil {
		price = append(price, bson.E{Key: "$lte", Value: *q.MaxPrice})
	}
	if len(price) > 0 {
		filter = append(filter, bson.E{Key: "price_incl_tax", Value: price})
	}
	return filter
}

// ListBooks 按条件分页查询，返回当前页和总数
func (s *Stores) ListBooks(ctx context.Context, q BookQuery) ([]*model.Book, int64, error) {
	filter := q.Filter()

	total, err := s.Books.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	dir := 1
	if q.SortDesc {
		dir = -1
	}
	opts := options.Find().
		SetProjection(withoutSnapshot).
		SetSort(bson.D{{Key: q.SortBy, Value: dir}, {Key: "_id", Value: 1}}).
		SetSkip(int64((q.Page - 1) * q.Limit)).
		SetLimit(int64(q.Limit))

	cur, err := s.Books.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find books: %w", err)
	}
	books := make([]*model.Book, 0, q.Limit)
	if err := cur.All(ctx, &books); err != nil {
		return nil, 0, fmt.Errorf("decode books: %w", err)
	}
	return books, total, nil
}

// GetBook 按 ID 查询完整记录
func (s *Stores) GetBook(ctx context.Context, id string) (*model.Book, error) {
	var b model.Book
	err := s.Books.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find book %s: %w", id, err)
	}
	return &b, nil
}

// RecentChanges 最近的 limit 条变更，新的在前
func (s *Stores) RecentChanges(ctx context.Context, limit int) ([]model.ChangeEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	return s.findChanges(ctx, bson.D{}, opts)
}

// ChangesSince since 之后的全部变更，新的在前
func (s *Stores) ChangesSince(ctx context.Context, since time.Time) ([]model.ChangeEntry, error) {
	filter := bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	return s.findChanges(ctx, filter, opts)
}

func (s *Stores) findChanges(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]model.ChangeEntry, error) {
	cur, err := s.Changes.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find changes: %w", err)
	}
	changes := make([]model.ChangeEntry, 0)
	if err := cur.All(ctx, &changes); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return changes, nil
}
