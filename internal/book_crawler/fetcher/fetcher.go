package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// maxResponseBodyBytes 单个页面的最大读取字节数
const maxResponseBodyBytes = 10 * 1024 * 1024

const (
	DefaultUserAgent = "BookCrawler/1.0"
	DefaultTimeout   = 15 * time.Second
)

// Page 一次成功抓取的结果
type Page struct {
	URL        string // 跟随重定向后的最终地址
	StatusCode int
	Body       []byte
}

// Options 构造 Client 的参数
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Policy    RetryPolicy

	// OnAttempt 每次请求结束后回调（用于指标）；可为空
	OnAttempt func(url string, attempt int, outcome Outcome)
}

// Client 带有界重试的 HTTP GET。每个进程构造一次，显式传给调用方。
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	Policy     RetryPolicy
	OnAttempt  func(url string, attempt int, outcome Outcome)

	// sleep 等待重试间隔；测试时替换
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建 Client
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		UserAgent:  opts.UserAgent,
		Policy:     opts.Policy.WithDefaults(),
		OnAttempt:  opts.OnAttempt,
		sleep:      sleepCtx,
	}
}

// Fetch 抓取 url；5xx 和瞬时网络错误按 Policy 重试，4xx 直接失败
func (c *Client) Fetch(ctx context.Context, url string) (*Page, error) {
	var (
		lastStatus int
		lastErr    error
	)

	for attempt := 1; ; attempt++ {
		page, status, err := c.do(ctx, url)
		outcome := classify(ctx, status, err)
		if c.OnAttempt != nil {
			c.OnAttempt(url, attempt, outcome)
		}

		if outcome == Success {
			return page, nil
		}

		lastStatus, lastErr = status, err
		if lastErr == nil {
			lastErr = fmt.Errorf("http status %d", status)
		}

		decision := c.Policy.Next(attempt, outcome)
		if !decision.Retry {
			return nil, &FetchError{URL: url, StatusCode: lastStatus, Attempts: attempt, Err: lastErr}
		}

		if err := c.sleep(ctx, decision.Delay); err != nil {
			return nil, &FetchError{URL: url, StatusCode: lastStatus, Attempts: attempt, Err: err}
		}
	}
}

// do 执行一次 GET，返回页面或状态码/错误
func (c *Client) do(ctx context.Context, url string) (*Page, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http fetch: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode >= 300 {
		// 丢弃响应体以便复用连接
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	return &Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}, resp.StatusCode, nil
}

// classify 把一次请求的结果映射到状态机的输入
func classify(ctx context.Context, status int, err error) Outcome {
	if err == nil {
		switch {
		case status >= 200 && status < 300:
			return Success
		case status >= 500:
			return Retryable
		default:
			return Terminal
		}
	}

	// 调用方取消不重试
	if ctx.Err() != nil {
		return Terminal
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}

	return Terminal
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
