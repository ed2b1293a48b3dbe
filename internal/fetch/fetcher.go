// Package fetch 定义远端对象读取能力：按 key 把字节流写入目标 Writer，
// 并区分“对象不存在”与其它传输/权限错误。重试只发生在这一层。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound 表示远端不存在该 key。
var ErrNotFound = errors.New("remote object not found")

// Fetcher 从远端对象存储读取 key 对应的全部字节并写入 dst。
type Fetcher interface {
	Fetch(ctx context.Context, key string, dst io.Writer) error
}

// FetcherFunc 让普通函数满足 Fetcher，便于测试注入。
type FetcherFunc func(ctx context.Context, key string, dst io.Writer) error

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, key string, dst io.Writer) error {
	return f(ctx, key, dst)
}

// RetryPolicy 控制可重试错误的次数与首轮退避，之后每次翻倍。
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// retryableError 标记可以安全重试的失败（尚未向 dst 写入任何字节）。
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	return &retryableError{err: err}
}

// retry 执行 fn，遇到 retryableError 时按指数退避重试，其它错误立即返回。
func retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		lastErr = re.err
		if attempt == policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("giving up after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

// countingWriter 记录已写入字节数，用于判断失败后是否还能重试。
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
