package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgent = "TestBot/1.0"

// newTestClient 返回不真正休眠、记录所有等待时间的 Client
func newTestClient(maxAttempts int) (*Client, *[]time.Duration) {
	c := New(Options{
		UserAgent: testAgent,
		Timeout:   5 * time.Second,
		Policy: RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Jitter:      0,
		},
	})

	var mu sync.Mutex
	delays := []time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, &delays
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c, delays := newTestClient(3)
	page, err := c.Fetch(context.Background(), srv.URL+"/index.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(page.Body))
	assert.Equal(t, srv.URL+"/index.html", page.URL)
	assert.Empty(t, *delays)
}

func TestFetch_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	var outcomes []Outcome
	c, delays := newTestClient(5)
	c.OnAttempt = func(_ string, _ int, o Outcome) { outcomes = append(outcomes, o) }

	page, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(page.Body))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
	assert.Equal(t, []Outcome{Retryable, Retryable, Success}, outcomes)
}

func TestFetch_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, delays := newTestClient(5)
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *delays)
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, delays := newTestClient(3)
	_, err := c.Fetch(context.Background(), srv.URL)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, srv.URL, fe.URL)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *delays, 2)
}

func TestFetch_RetriesConnectionErrors(t *testing.T) {
	// 先占用一个端口再关闭，得到一个必然拒绝连接的地址
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, delays := newTestClient(3)
	_, err = c.Fetch(context.Background(), "http://"+addr+"/")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 0, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.Len(t, *delays, 2)
}

func TestFetch_CancelledContextStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(5)
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryPolicy_StateMachine(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}.WithDefaults()

	assert.Equal(t, Decision{}, p.Next(1, Success))
	assert.Equal(t, Decision{}, p.Next(1, Terminal))
	assert.Equal(t, Decision{Retry: true, Delay: time.Second}, p.Next(1, Retryable))
	assert.Equal(t, Decision{Retry: true, Delay: 2 * time.Second}, p.Next(2, Retryable))
	assert.Equal(t, Decision{}, p.Next(3, Retryable))
}

func TestRetryPolicy_BackoffCapAndJitter(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Jitter: 0.5}

	p.Rand = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 2500*time.Millisecond, p.Backoff(8))

	p.Rand = func() float64 { return 0.5 }
	assert.Equal(t, 4*time.Second, p.Backoff(3))

	p.Rand = nil
	for i := 0; i < 100; i++ {
		d := p.Backoff(2)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestRetryPolicy_WithDefaults(t *testing.T) {
	p := RetryPolicy{}.WithDefaults()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, p.BaseDelay)
	assert.Equal(t, DefaultMaxDelay, p.MaxDelay)
}
