// Package catalogtest 为测试生成列表页/详情页 HTML，并提供一个内存目录站点。
package catalogtest

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

var listingTmpl = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html><head><title>All products | Books to Scrape - Sandbox</title></head>
<body><section><div><ol class="row">
{{range .Links}}<li class="col-xs-6 col-sm-4 col-md-3 col-lg-3">
<article class="product_pod">
<div class="image_container"><a href="{{.}}"><img src="thumb.jpg" class="thumbnail"></a></div>
<h3><a href="{{.}}" title="book">book</a></h3>
</article></li>
{{end}}</ol>
{{if .Pager}}<div><ul class="pager">
<li class="current">Page {{.Page}}</li>
{{if .HasNext}}<li class="next"><a href="page-{{.Next}}.html">next</a></li>{{end}}
</ul></div>{{end}}
</div></section></body></html>`))

var detailTmpl = template.Must(template.New("detail").Parse(`<!DOCTYPE html>
<html><head><title>{{.Name}} | Books to Scrape - Sandbox</title></head>
<body><div class="page_inner">
<ul class="breadcrumb">
<li><a href="../../index.html">Home</a></li>
<li><a href="../category/books_1/index.html">Books</a></li>
<li><a href="../category/books/x_1/index.html">{{.Category}}</a></li>
<li class="active">{{.Name}}</li>
</ul>
<article class="product_page">
<div class="item active"><img src="../../media/{{.ID}}.jpg" alt="{{.Name}}"></div>
<div class="col-sm-6 product_main">
<h1>{{.Name}}</h1>
<p class="star-rating {{.RatingWord}}"></p>
</div>
<div id="product_description" class="sub-header"><h2>Product Description</h2></div>
<p>{{.Description}}</p>
<table class="table table-striped">
<tr><th>UPC</th><td>{{.UPC}}</td></tr>
<tr><th>Price (excl. tax)</th><td>£{{.PriceExcl}}</td></tr>
<tr><th>Price (incl. tax)</th><td>£{{.PriceIncl}}</td></tr>
<tr><th>Availability</th><td>{{.Availability}}</td></tr>
<tr><th>Number of reviews</th><td>{{.NumReviews}}</td></tr>
</table>
</article></div></body></html>`))

var ratingWords = []string{"Zero", "One", "Two", "Three", "Four", "Five"}

// ListingHTML 渲染一个列表页；links 为相对链接。pager=false 时不输出分页器。
func ListingHTML(page int, links []string, pager, hasNext bool) []byte {
	var sb strings.Builder
	_ = listingTmpl.Execute(&sb, map[string]any{
		"Links":   links,
		"Pager":   pager,
		"Page":    page,
		"HasNext": hasNext,
		"Next":    page + 1,
	})
	return []byte(sb.String())
}

// DetailHTML 渲染一个详情页
func DetailHTML(b *model.Book) []byte {
	rating := ""
	if b.Rating >= 0 && b.Rating < len(ratingWords) {
		rating = ratingWords[b.Rating]
	}
	var sb strings.Builder
	_ = detailTmpl.Execute(&sb, map[string]any{
		"ID":           b.ID,
		"Name":         b.Name,
		"Category":     b.Category,
		"Description":  b.Description,
		"UPC":          b.UPC,
		"PriceExcl":    strconv.FormatFloat(b.PriceExclTax, 'f', 2, 64),
		"PriceIncl":    strconv.FormatFloat(b.PriceInclTax, 'f', 2, 64),
		"Availability": b.Availability,
		"NumReviews":   b.NumReviews,
		"RatingWord":   rating,
	})
	return []byte(sb.String())
}

// NewBook 生成第 n 本测试图书（未设置 SourceURL）
func NewBook(n int) *model.Book {
	return &model.Book{
		ID:           fmt.Sprintf("book-%04d_%d", n, n),
		UPC:          fmt.Sprintf("upc%013d", n),
		Name:         fmt.Sprintf("Book %d", n),
		Description:  fmt.Sprintf("Description of book %d.", n),
		Category:     "Poetry",
		PriceInclTax: 10 + float64(n%50),
		PriceExclTax: 10 + float64(n%50),
		Availability: "In stock (5 available)",
		NumReviews:   n % 7,
		Rating:       n%5 + 1,
	}
}

// Site 内存中的目录站点：catalogue/page-N.html + catalogue/<id>/index.html
type Site struct {
	mu       sync.Mutex
	pageSize int
	books    []*model.Book
	failures map[string]int // path -> 固定返回的状态码
	hits     map[string]int

	Server *httptest.Server
}

// NewSite 启动站点；调用方负责 Close
func NewSite(pageSize int, books []*model.Book) *Site {
	s := &Site{
		pageSize: pageSize,
		books:    books,
		failures: make(map[string]int),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Site) Close() { s.Server.Close() }

// URL 站点根地址（以 / 结尾）
func (s *Site) URL() string { return s.Server.URL + "/" }

// DetailURL 某本书的详情页地址
func (s *Site) DetailURL(id string) string {
	return s.Server.URL + "/catalogue/" + id + "/index.html"
}

// Stubs 站点上所有图书的列表引用
func (s *Site) Stubs() []model.ItemStub {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ItemStub, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, model.ItemStub{ID: b.ID, DetailURL: s.DetailURL(b.ID)})
	}
	return out
}

// Update 修改站点上某本书
func (s *Site) Update(id string, fn func(b *model.Book)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.books {
		if b.ID == id {
			fn(b)
		}
	}
}

// Fail 让某个路径固定返回 status
func (s *Site) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Hits 某个路径被请求的次数
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// DetailHits 所有详情页请求次数
func (s *Site) DetailHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p, c := range s.hits {
		if strings.HasSuffix(p, "/index.html") && p != "/index.html" {
			n += c
		}
	}
	return n
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := r.URL.Path
	s.hits[p]++
	if status, ok := s.failures[p]; ok {
		w.WriteHeader(status)
		return
	}

	var page int
	if _, err := fmt.Sscanf(p, "/catalogue/page-%d.html", &page); err == nil {
		start := (page - 1) * s.pageSize
		if page < 1 || start >= len(s.books) {
			http.NotFound(w, r)
			return
		}
		end := min(start+s.pageSize, len(s.books))
		links := make([]string, 0, end-start)
		for _, b := range s.books[start:end] {
			links = append(links, b.ID+"/index.html")
		}
		_, _ = w.Write(ListingHTML(page, links, true, end < len(s.books)))
		return
	}

	for _, b := range s.books {
		if p == "/catalogue/"+b.ID+"/index.html" {
			_, _ = w.Write(DetailHTML(b))
			return
		}
	}
	http.NotFound(w, r)
}
