package fetcher

import (
	"math"
	"math/rand/v2"
	"time"
)

// Outcome 单次请求的分类结果
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Terminal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// 默认重试参数
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultJitter      = 0.2
)

// Decision 状态机在第 n 次尝试后的决定
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy 有界重试状态机：
// Attempt(n) -> Success | Retryable -> Attempt(n+1) | Terminal。
// 延迟为 BaseDelay * 2^(n-1)，上限 MaxDelay，再乘以 [1-Jitter, 1+Jitter] 的随机因子。
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	// Rand 返回 [0,1) 的随机数；测试时可替换
	Rand func() float64
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// WithDefaults 对零值字段填充默认值
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Next 根据第 attempt 次（从 1 开始）的结果决定是否继续
func (p RetryPolicy) Next(attempt int, outcome Outcome) Decision {
	if outcome != Retryable || attempt >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempt)}
}

// Backoff 第 attempt 次失败后的等待时间
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d *= 1 + (r()*2-1)*p.Jitter
	}
	return time.Duration(d)
}
