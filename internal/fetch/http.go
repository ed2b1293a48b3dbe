package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient 返回共享 transport 的 http.Client。headerTimeout 只约束等待响应头的时间，
// 不限制大文件正文的下载时长。
func NewClient(headerTimeout time.Duration) *http.Client {
	transport := defaultTransport.Clone()
	if headerTimeout > 0 {
		transport.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: transport}
}

// StatusError 描述非 200/404 的上游响应，调用方可通过 errors.As 取得状态码。
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// HTTPOptions 配置基于 HTTP GET 的对象读取（例如 S3 bucket 的 HTTPS 端点）。
type HTTPOptions struct {
	Upstream string
	Username string
	Password string
	Client   *http.Client
	Retry    RetryPolicy
}

// HTTPFetcher 以 GET {upstream}/{key} 读取对象。
type HTTPFetcher struct {
	base     *url.URL
	client   *http.Client
	username string
	password string
	retry    RetryPolicy
}

// NewHTTPFetcher 校验上游地址并构造 HTTPFetcher。
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.Upstream, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", opts.Upstream, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream scheme: %s", opts.Upstream)
	}
	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}
	return &HTTPFetcher{
		base:     base,
		client:   client,
		username: opts.Username,
		password: opts.Password,
		retry:    opts.Retry,
	}, nil
}

// Fetch 下载 key 并写入 dst。404 映射为 ErrNotFound；5xx、429 与连接错误在尚未写入
// 任何字节时重试，其它状态码直接返回 *StatusError。
func (f *HTTPFetcher) Fetch(ctx context.Context, key string, dst io.Writer) error {
	cw := &countingWriter{w: dst}
	return retry(ctx, f.retry, func() error {
		return f.fetchOnce(ctx, key, cw)
	})
}

// URL 返回 key 对应的完整下载地址。
func (f *HTTPFetcher) URL(key string) string {
	return f.base.JoinPath(key).String()
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, key string, cw *countingWriter) error {
	target := f.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return retryable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retryable(&StatusError{URL: target, StatusCode: resp.StatusCode, Status: resp.Status})
	default:
		return &StatusError{URL: target, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	before := cw.n
	if _, err := io.Copy(cw, resp.Body); err != nil {
		if cw.n == before && !errors.Is(err, context.Canceled) {
			return retryable(err)
		}
		return fmt.Errorf("read %s: %w", target, err)
	}
	return nil
}
