package model

import "time"

// ChangeEntry 变更日志：每个变化的字段一条，只追加
type ChangeEntry struct {
	ItemID       string    `bson:"item_id" json:"item_id"`
	Timestamp    time.Time `bson:"timestamp" json:"timestamp"` // UTC
	FieldChanged string    `bson:"field_changed" json:"field_changed"`
	OldValue     string    `bson:"old_value" json:"old_value"`
	NewValue     string    `bson:"new_value" json:"new_value"`
}

// FieldFetchStatus 失败记录被修复时使用的伪字段名
const FieldFetchStatus = "fetch_status"
