package helper

import (
	"fmt"
	"sync/atomic"
	"time"
)

// location 调度和日报窗口使用的时区，默认 UTC
var location atomic.Pointer[time.Location]

// ConfigureTimeLocation 设置时区；加载失败时兜底为 UTC 并返回错误
func ConfigureTimeLocation(name string) error {
	if name == "" {
		location.Store(time.UTC)
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		location.Store(time.UTC)
		return fmt.Errorf("load time location %q: %w", name, err)
	}
	location.Store(loc)
	return nil
}

// Location 当前配置的时区；未配置时为 UTC
func Location() *time.Location {
	if loc := location.Load(); loc != nil {
		return loc
	}
	return time.UTC
}

// ReportWindowStart 日报窗口起点：now 往前 24 小时
func ReportWindowStart(now time.Time) time.Time {
	return now.In(Location()).Add(-24 * time.Hour)
}
