package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
)

// ParseError 页面结构与预期不符
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// Listing 列表页解析结果
type Listing struct {
	Stubs []model.ItemStub
	// HasNext 为 false 表示页面带分页器但没有“下一页”
	HasNext bool
}

// ratingWords star-rating 的 class 名到分数
var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// ParseListing 从列表页提取图书引用，链接按 pageURL 解析为绝对地址
func ParseListing(body []byte, pageURL string) (*Listing, error) {
	doc, err := newDocument(body, pageURL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: "invalid page url"}
	}

	listing := &Listing{HasNext: true}
	seen := make(map[string]struct{})

	var parseErr error
	doc.Find("article.product_pod").EachWithBreak(func(i int, pod *goquery.Selection) bool {
		href, ok := pod.Find("h3 a").Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			parseErr = &ParseError{URL: pageURL, Reason: fmt.Sprintf("product %d has no detail link", i)}
			return false
		}

		ref, err := url.Parse(href)
		if err != nil {
			parseErr = &ParseError{URL: pageURL, Reason: fmt.Sprintf("product %d: bad link %q", i, href)}
			return false
		}
		detailURL := base.ResolveReference(ref).String()

		id := ItemID(detailURL)
		if id == "" {
			parseErr = &ParseError{URL: pageURL, Reason: fmt.Sprintf("product %d: no id in %q", i, detailURL)}
			return false
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
		listing.Stubs = append(listing.Stubs, model.ItemStub{ID: id, DetailURL: detailURL})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	if pager := doc.Find("ul.pager"); pager.Length() > 0 && pager.Find("li.next").Length() == 0 {
		listing.HasNext = false
	}

	return listing, nil
}

// ParseDetail 从详情页提取完整记录。
// FetchStatus、FetchedAt、Fingerprint 由调用方填写。
// 可选字段缺失时取默认值：价格 0、评论数 0、评分 0、字符串为空。
func ParseDetail(body []byte, sourceURL string) (*model.Book, error) {
	id := ItemID(sourceURL)
	if id == "" {
		return nil, &ParseError{URL: sourceURL, Reason: "url carries no item id"}
	}

	doc, err := newDocument(body, sourceURL)
	if err != nil {
		return nil, err
	}

	name := cleanText(doc.Find("div.product_main h1").First().Text())
	if name == "" {
		return nil, &ParseError{URL: sourceURL, Reason: "missing product name"}
	}

	table := productTable(doc)

	book := &model.Book{
		ID:           id,
		UPC:          table["UPC"],
		Name:         name,
		Description:  cleanText(doc.Find("#product_description").NextFiltered("p").First().Text()),
		Category:     cleanText(doc.Find("ul.breadcrumb li").Eq(2).Find("a").First().Text()),
		PriceInclTax: parsePrice(table["Price (incl. tax)"]),
		PriceExclTax: parsePrice(table["Price (excl. tax)"]),
		Availability: table["Availability"],
		NumReviews:   parseCount(table["Number of reviews"]),
		Rating:       parseRating(doc.Find("p.star-rating").First()),
		SourceURL:    sourceURL,
		RawSnapshot:  string(body),
	}

	if src, ok := doc.Find("div.item.active img").First().Attr("src"); ok {
		book.ImageURL = resolve(sourceURL, src)
	}

	return book, nil
}

// ItemID 从详情页地址中取出目录分配的 slug：
// .../catalogue/a-light-in-the-attic_1000/index.html -> a-light-in-the-attic_1000
func ItemID(detailURL string) string {
	u, err := url.Parse(detailURL)
	if err != nil {
		return ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	if path.Base(p) == "index.html" {
		p = path.Dir(p)
	} else {
		p = strings.TrimSuffix(p, ".html")
	}
	id := path.Base(p)
	if id == "." || id == "/" || id == "catalogue" {
		return ""
	}
	return id
}

func newDocument(body []byte, pageURL string) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{URL: pageURL, Reason: "empty document"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: err.Error()}
	}
	return doc, nil
}

// productTable 读取 "Product Information" 表格为 th -> td
func productTable(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find("table.table tr").Each(func(_ int, row *goquery.Selection) {
		key := cleanText(row.Find("th").First().Text())
		val := cleanText(row.Find("td").First().Text())
		if key != "" && val != "" {
			out[key] = val
		}
	})
	return out
}

// parsePrice "£51.77" -> 51.77；无法解析时为 0
func parsePrice(s string) float64 {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-'
	})
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseCount(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseRating(sel *goquery.Selection) int {
	class, _ := sel.Attr("class")
	for _, word := range strings.Fields(class) {
		if n, ok := ratingWords[word]; ok {
			return n
		}
	}
	return 0
}

func resolve(baseURL, ref string) string {
	b, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// cleanText 去掉首尾空白并把内部连续空白压成一个空格
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
