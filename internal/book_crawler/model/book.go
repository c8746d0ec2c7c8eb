package model

import "time"

// FetchStatus 详情页抓取结果
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchFailed  FetchStatus = "failed"
)

// ItemStub 列表页中的一条引用（ID + 详情页地址）
type ItemStub struct {
	ID        string `json:"id"`
	DetailURL string `json:"detail_url"`
}

// Book 图书的完整记录，ID 即存储主键 (_id)
type Book struct {
	ID           string      `bson:"_id" json:"id"`
	UPC          string      `bson:"upc,omitempty" json:"upc,omitempty"`
	Name         string      `bson:"name" json:"name"`
	Description  string      `bson:"description" json:"description"`
	Category     string      `bson:"category" json:"category"`
	PriceInclTax float64     `bson:"price_incl_tax" json:"price_incl_tax"`
	PriceExclTax float64     `bson:"price_excl_tax" json:"price_excl_tax"`
	Availability string      `bson:"availability" json:"availability"` // 原文，如 "In stock (22 available)"
	NumReviews   int         `bson:"num_reviews" json:"num_reviews"`
	Rating       int         `bson:"rating" json:"rating"` // 0-5
	ImageURL     string      `bson:"image_url" json:"image_url"`
	SourceURL    string      `bson:"source_url" json:"source_url"`
	FetchStatus  FetchStatus `bson:"fetch_status" json:"fetch_status"`
	FetchError   string      `bson:"fetch_error,omitempty" json:"fetch_error,omitempty"`
	FetchedAt    time.Time   `bson:"fetch_timestamp" json:"fetch_timestamp"` // UTC
	Fingerprint  string      `bson:"content_fingerprint,omitempty" json:"content_fingerprint,omitempty"`
	RawSnapshot  string      `bson:"raw_snapshot,omitempty" json:"raw_snapshot,omitempty"`
}

// Failed 该行只记录了一次失败的抓取
func (b *Book) Failed() bool {
	return b.FetchStatus == FetchFailed
}

// Stub 已存记录对应的列表引用
func (b *Book) Stub() ItemStub {
	return ItemStub{ID: b.ID, DetailURL: b.SourceURL}
}
