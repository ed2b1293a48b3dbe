// Package lockfile 实现基于“排他创建文件”的跨进程互斥：锁文件存在即表示有进程正在
// 下载/安装对应对象。锁没有持有者信息与过期时间，只能由创建者删除，或在创建者正常退出时
// 通过 cleanup.Registry 清理。
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/datastore/internal/cleanup"
)

const (
	// DefaultPollInterval 是等待锁释放时的固定轮询间隔。
	DefaultPollInterval = time.Second
	// DefaultQuietPeriod 是首条等待提示之后保持静默的时长。
	DefaultQuietPeriod = 16 * time.Minute
	// DefaultWarnInterval 是静默期结束后告警日志的最小间隔。
	DefaultWarnInterval = time.Minute
)

// Coordinator 负责锁文件的等待、获取与释放。
type Coordinator struct {
	cleanup      *cleanup.Registry
	logger       logrus.FieldLogger
	clock        clockwork.Clock
	pollInterval time.Duration
	quietPeriod  time.Duration
	warnInterval time.Duration
}

// Option 调整 Coordinator 的时钟与节奏，主要供测试注入假时钟。
type Option func(*Coordinator)

// WithClock 替换默认的真实时钟。
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithPollInterval 设置轮询间隔。
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithQuietPeriod 设置首条提示后的静默时长。
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.quietPeriod = d
		}
	}
}

// WithWarnInterval 设置告警日志间隔。
func WithWarnInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.warnInterval = d
		}
	}
}

// New 构造 Coordinator。registry 用于登记已创建的锁，保证进程正常退出时删除。
func New(registry *cleanup.Registry, logger logrus.FieldLogger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Coordinator{
		cleanup:      registry,
		logger:       logger,
		clock:        clockwork.NewRealClock(),
		pollInterval: DefaultPollInterval,
		quietPeriod:  DefaultQuietPeriod,
		warnInterval: DefaultWarnInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WaitUntilUnlocked 阻塞直到 lockPath 不存在。锁不存在时立即返回；否则先等待一个轮询
// 间隔，仍存在时输出一条 info，随后按固定间隔轮询，静默期过后每个告警间隔最多输出一条 warn。
// ctx 只在两次轮询之间检查，传入 context.Background() 即为无限等待。
func (c *Coordinator) WaitUntilUnlocked(ctx context.Context, lockPath string) error {
	held, err := exists(lockPath)
	if err != nil || !held {
		return err
	}

	start := c.clock.Now()
	if err := c.sleep(ctx); err != nil {
		return err
	}
	if held, err = exists(lockPath); err != nil || !held {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"action":    "lock_wait",
		"lock_path": lockPath,
	}).Info("lock_wait_started")
	nextMessage := c.clock.Now().Add(c.quietPeriod)

	for {
		held, err := exists(lockPath)
		if err != nil || !held {
			return err
		}
		if now := c.clock.Now(); !now.Before(nextMessage) {
			c.logger.WithFields(logrus.Fields{
				"action":          "lock_wait",
				"lock_path":       lockPath,
				"elapsed_seconds": fmt.Sprintf("%.0f", now.Sub(start).Seconds()),
			}).Warn("lock_wait_blocked")
			nextMessage = now.Add(c.warnInterval)
		}
		if err := c.sleep(ctx); err != nil {
			return err
		}
	}
}

// TryAcquire 以排他方式创建锁文件。文件已存在时返回 false 且不视为错误，
// 调用方应重新走一遍等待/命中判断。
func (c *Coordinator) TryAcquire(lockPath string) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(lockPath)
		return false, fmt.Errorf("close lock file: %w", err)
	}
	if c.cleanup != nil {
		if err := c.cleanup.Register(lockPath); err != nil {
			os.Remove(lockPath)
			return false, err
		}
	}
	return true, nil
}

// Release 删除锁文件并从清理表中注销。
func (c *Coordinator) Release(lockPath string) error {
	err := os.Remove(lockPath)
	if c.cleanup != nil {
		c.cleanup.Deregister(lockPath)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// WithLock 获取锁后执行 fn，并保证无论 fn 成功、返回错误还是 panic 都会释放锁。
// 未抢到锁时 fn 不会执行，acquired 为 false。
func (c *Coordinator) WithLock(lockPath string, fn func() error) (acquired bool, err error) {
	ok, err := c.TryAcquire(lockPath)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if releaseErr := c.Release(lockPath); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return true, fn()
}

func (c *Coordinator) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.pollInterval):
		return nil
	}
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat lock file: %w", err)
}
