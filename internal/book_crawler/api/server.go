package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/helper"
	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/internal/middleware/logger"
)

// Repository API 需要的只读查询；helper.Stores 实现了它
type Repository interface {
	ListBooks(ctx context.Context, q helper.BookQuery) ([]*model.Book, int64, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	RecentChanges(ctx context.Context, limit int) ([]model.ChangeEntry, error)
	ChangesSince(ctx context.Context, since time.Time) ([]model.ChangeEntry, error)
}

type Server struct {
	Log              *zap.Logger
	Repo             Repository
	APIKeyHashes     []string
	RateLimitPerHour int
	Metrics          http.Handler // 为空时使用默认注册表

	now func() time.Time
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(s.Log), gin.Recovery())

	metrics := s.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r.GET("/", s.welcome)
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(metrics))

	limiter := NewIPRateLimiter(s.RateLimitPerHour, time.Hour)
	auth := NewKeyAuth(s.Log, s.APIKeyHashes)

	protected := r.Group("/", limiter.Middleware(), auth.Middleware())
	// ?category=&min_price=&max_price=&rating=&sort_by=&sort_desc=&page=1&limit=20
	protected.GET("/books", s.listBooks)
	protected.GET("/books/:id", s.getBook)
	protected.GET("/changes", s.listChanges)
	protected.GET("/changes/report", s.report)
	return r
}

func (s *Server) welcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Book catalog API. Send X-API-Key to query /books and /changes."})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var sortKeys = map[string]struct{}{
	"rating":         {},
	"price_incl_tax": {},
	"num_reviews":    {},
}

func (s *Server) listBooks(c *gin.Context) {
	q, err := parseBookQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	books, total, err := s.Repo.ListBooks(c.Request.Context(), q)
	if err != nil {
		s.Log.Error("Failed to list books", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list books"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"data":  books,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

func parseBookQuery(c *gin.Context) (helper.BookQuery, error) {
	q := helper.BookQuery{
		Category: c.Query("category"),
		SortBy:   c.DefaultQuery("sort_by", "rating"),
	}

	if _, ok := sortKeys[q.SortBy]; !ok {
		return q, errors.New("sort_by must be one of rating, price_incl_tax, num_reviews")
	}

	var err error
	if q.SortDesc, err = strconv.ParseBool(c.DefaultQuery("sort_desc", "true")); err != nil {
		return q, errors.New("sort_desc must be a boolean")
	}
	if v := c.Query("min_price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p < 0 {
			return q, errors.New("min_price must be a number >= 0")
		}
		q.MinPrice = &p
	}
	if v := c.Query("max_price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p <= 0 {
			return q, errors.New("max_price must be a number > 0")
		}
		q.MaxPrice = &p
	}
	if v := c.Query("rating"); v != "" {
		r, err := strconv.Atoi(v)
		if err != nil || r < 1 || r > 5 {
			return q, errors.New("rating must be an integer between 1 and 5")
		}
		q.Rating = r
	}
	if q.Page, err = intParam(c, "page", 1, 1, 0); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(c, "limit", 20, 1, 100); err != nil {
		return q, err
	}
	return q, nil
}

// intParam 读取整数参数；hi 为 0 表示不设上限
func intParam(c *gin.Context, name string, def, lo, hi int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || (hi > 0 && n > hi) {
		if hi > 0 {
			return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
		}
		return 0, fmt.Errorf("%s must be an integer >= %d", name, lo)
	}
	return n, nil
}

func (s *Server) getBook(c *gin.Context) {
	id := c.Param("id")
	book, err := s.Repo.GetBook(c.Request.Context(), id)
	if errors.Is(err, helper.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "book '" + id + "' not found"})
		return
	}
	if err != nil {
		s.Log.Error("Failed to get book", zap.String("itemId", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get book"})
		return
	}
	c.JSON(http.StatusOK, book)
}

func (s *Server) listChanges(c *gin.Context) {
	limit, err := intParam(c, "limit", 50, 1, 200)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changes, err := s.Repo.RecentChanges(c.Request.Context(), limit)
	if err != nil {
		s.Log.Error("Failed to list changes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list changes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": changes, "count": len(changes)})
}

func (s *Server) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
