// Package registry 按配置构建各数据仓库实例，并提供 datastore:// 地址的解析入口。
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/datastore/internal/cache"
	"github.com/any-hub/datastore/internal/cleanup"
	"github.com/any-hub/datastore/internal/config"
	"github.com/any-hub/datastore/internal/fetch"
	"github.com/any-hub/datastore/internal/locator"
	"github.com/any-hub/datastore/internal/lockfile"
)

// ErrUnknownStore 表示地址引用了未配置的实例。
var ErrUnknownStore = errors.New("unknown datastore")

// FetcherFactory 根据实例配置构造远端读取器，测试中可替换为内存实现。
type FetcherFactory func(cfg config.StoreConfig, global config.GlobalConfig) (fetch.Fetcher, error)

// Option 调整 Registry 的构造方式。
type Option func(*options)

type options struct {
	factory     FetcherFactory
	lockOptions []lockfile.Option
}

// WithFetcherFactory 替换默认的 HTTP/OCI 读取器构造逻辑。
func WithFetcherFactory(factory FetcherFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.factory = factory
		}
	}
}

// WithLockOptions 追加锁协调器选项（例如假时钟）。
func WithLockOptions(opts ...lockfile.Option) Option {
	return func(o *options) {
		o.lockOptions = append(o.lockOptions, opts...)
	}
}

// Registry 持有按名称索引的 cache.Store，全部实例共享同一个临时区与清理表。
type Registry struct {
	stores  map[string]*cache.Store
	configs map[string]config.StoreConfig
	logger  logrus.FieldLogger
}

// New 为 cfg 中每个实例创建缓存目录与读取器。
func New(cfg *config.Config, registry *cleanup.Registry, logger logrus.FieldLogger, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := options{factory: NewFetcher}
	for _, opt := range opts {
		opt(&o)
	}

	lockOpts := append([]lockfile.Option{lockfile.WithPollInterval(cfg.Global.PollInterval.DurationValue())}, o.lockOptions...)
	locks := lockfile.New(registry, logger, lockOpts...)

	r := &Registry{
		stores:  make(map[string]*cache.Store, len(cfg.Stores)),
		configs: make(map[string]config.StoreConfig, len(cfg.Stores)),
		logger:  logger,
	}
	for _, storeCfg := range cfg.Stores {
		fetcher, err := o.factory(storeCfg, cfg.Global)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", storeCfg.Name, err)
		}
		store, err := cache.NewStore(cache.StoreOptions{
			Name:       storeCfg.Name,
			Root:       cfg.StoreRoot(storeCfg.Name),
			StagingDir: cfg.StagingDir(),
			Fetcher:    fetcher,
			Cleanup:    registry,
			Logger:     logger,
			Locks:      locks,
		})
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", storeCfg.Name, err)
		}
		r.stores[storeCfg.Name] = store
		r.configs[storeCfg.Name] = storeCfg
	}
	return r, nil
}

// NewFetcher 是默认的 FetcherFactory：http 后端走 S3 风格 GET，oci 后端走 registry。
func NewFetcher(cfg config.StoreConfig, global config.GlobalConfig) (fetch.Fetcher, error) {
	retry := fetch.RetryPolicy{
		MaxRetries:     global.MaxRetries,
		InitialBackoff: global.InitialBackoff.DurationValue(),
	}
	client := fetch.NewClient(global.FetchTimeout.DurationValue())
	switch cfg.Backend {
	case config.BackendOCI:
		return fetch.NewOCIFetcher(fetch.OCIOptions{
			Repository: cfg.Upstream,
			Username:   cfg.Username,
			Password:   cfg.Password,
			Transport:  client.Transport,
			Retry:      retry,
		})
	case config.BackendHTTP, "":
		return fetch.NewHTTPFetcher(fetch.HTTPOptions{
			Upstream: cfg.Upstream,
			Username: cfg.Username,
			Password: cfg.Password,
			Client:   client,
			Retry:    retry,
		})
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// Lookup 按名称返回实例。
func (r *Registry) Lookup(name string) (*cache.Store, bool) {
	store, ok := r.stores[name]
	return store, ok
}

// Config 返回实例的配置。
func (r *Registry) Config(name string) (config.StoreConfig, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names 返回已配置实例名的有序列表。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 在指定实例中解析 loc。
func (r *Registry) Resolve(ctx context.Context, storeName string, loc locator.Locator) (string, error) {
	store, ok := r.stores[storeName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStore, storeName)
	}
	return store.Resolve(ctx, loc)
}

// ResolveURL 把 datastore:// 地址解析为本地路径；其它输入原样返回。
// 目录地址携带的内部路径会拼接到目录之后，但不检查其是否存在。
func (r *Registry) ResolveURL(ctx context.Context, raw string) (string, error) {
	parsed, err := locator.ParseURL(raw)
	if errors.Is(err, locator.ErrNotDatastoreURL) {
		return raw, nil
	}
	if err != nil {
		return "", err
	}

	path, err := r.Resolve(ctx, parsed.Store, parsed.Locator)
	if err != nil {
		return "", err
	}
	if parsed.Locator.Directory && parsed.Inner != "" {
		inner := filepath.FromSlash(parsed.Inner)
		joined := filepath.Join(path, inner)
		if rel, relErr := filepath.Rel(path, joined); relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("inner path escapes directory: %s", parsed.Inner)
		}
		return joined, nil
	}
	return path, nil
}

// ResolveAll 并发解析多个地址，结果顺序与输入一致。任一失败会取消其余解析并返回首个错误。
func (r *Registry) ResolveAll(ctx context.Context, raws []string, concurrency int) ([]string, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]string, len(raws))
	p := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, raw := range raws {
		p.Go(func(ctx context.Context) error {
			path, err := r.ResolveURL(ctx, raw)
			if err != nil {
				return fmt.Errorf("%s: %w", raw, err)
			}
			results[i] = path
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
