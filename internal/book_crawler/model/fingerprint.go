package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// FingerprintFields 参与指纹计算的字段，顺序固定（同时也是 diff 的输出顺序）
var FingerprintFields = []string{
	"name",
	"description",
	"category",
	"price_incl_tax",
	"price_excl_tax",
	"availability",
	"num_reviews",
	"rating",
}

// FieldValue 返回字段的规范文本形式；指纹、diff 和变更日志都用它
func FieldValue(b *Book, field string) string {
	switch field {
	case "name":
		return b.Name
	case "description":
		return b.Description
	case "category":
		return b.Category
	case "price_incl_tax":
		return formatPrice(b.PriceInclTax)
	case "price_excl_tax":
		return formatPrice(b.PriceExclTax)
	case "availability":
		return b.Availability
	case "num_reviews":
		return strconv.Itoa(b.NumReviews)
	case "rating":
		return strconv.Itoa(b.Rating)
	default:
		return ""
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fingerprint 对固定字段子集做 SHA-256。
// 每个字段按 "<len>:<name><len>:<value>" 写入原始字节，字段顺序由 FingerprintFields 决定；
// 对任意字节（包括非法 UTF-8）都是单射。
func Fingerprint(b *Book) string {
	h := sha256.New()
	for _, f := range FingerprintFields {
		v := FieldValue(b, f)
		fmt.Fprintf(h, "%d:%s%d:%s", len(f), f, len(v), v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Diff 逐字段比较旧记录和新记录，每个不同的字段生成一条 ChangeEntry
func Diff(old, cur *Book, at time.Time) []ChangeEntry {
	var out []ChangeEntry
	for _, f := range FingerprintFields {
		ov, nv := FieldValue(old, f), FieldValue(cur, f)
		if ov == nv {
			continue
		}
		out = append(out, ChangeEntry{
			ItemID:       cur.ID,
			Timestamp:    at,
			FieldChanged: f,
			OldValue:     ov,
			NewValue:     nv,
		})
	}
	return out
}
