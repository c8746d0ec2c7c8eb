package fetcher

import "fmt"

// FetchError 重试耗尽或遇到终止性错误（4xx 等）
type FetchError struct {
	URL        string
	StatusCode int // 最后一次的 HTTP 状态码；网络错误时为 0
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
