package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/datastore/internal/cleanup"
	"github.com/any-hub/datastore/internal/fetch"
	"github.com/any-hub/datastore/internal/locator"
	"github.com/any-hub/datastore/internal/logging"
)

// stagingPrefix 是临时区内所有文件与目录的名称前缀。
const stagingPrefix = "ai2-datastore-"

// Installer 把远端对象下载到临时区，再以一次 rename 安装到缓存的规范路径。
// 调用方负责持有对象的锁。
type Installer struct {
	store      string
	fetcher    fetch.Fetcher
	cacheRoot  string
	stagingDir string
	cleanup    *cleanup.Registry
	logger     logrus.FieldLogger
	clock      clockwork.Clock
}

// InstallerOption 调整 Installer 的可选依赖。
type InstallerOption func(*Installer)

// WithInstallerClock 替换用于统计下载耗时的时钟。
func WithInstallerClock(clock clockwork.Clock) InstallerOption {
	return func(i *Installer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// NewInstaller 构造 Installer。stagingDir 必须与 cacheRoot 位于同一文件系统；
// registry 为空时使用独立的清理表。
func NewInstaller(store string, fetcher fetch.Fetcher, cacheRoot, stagingDir string, registry *cleanup.Registry, logger logrus.FieldLogger, opts ...InstallerOption) *Installer {
	if registry == nil {
		registry = cleanup.New()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	i := &Installer{
		store:      store,
		fetcher:    fetcher,
		cacheRoot:  cacheRoot,
		stagingDir: stagingDir,
		cleanup:    registry,
		logger:     logger,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// FetchAndInstall 下载 loc 并安装，返回规范路径。失败时已创建的临时文件与目录会被立即删除。
func (i *Installer) FetchAndInstall(ctx context.Context, loc locator.Locator) (string, error) {
	target := filepath.Join(i.cacheRoot, filepath.FromSlash(loc.CachePath()))
	fields := logging.LocatorFields(i.store, loc)
	started := i.clock.Now()

	i.logger.WithFields(fields).WithField("action", "download_started").Info("开始下载")

	size, err := i.install(ctx, loc, target)
	if err != nil {
		i.logger.WithFields(fields).WithFields(logrus.Fields{
			"action": "download_failed",
			"error":  err.Error(),
		}).Warn("下载失败")
		return "", err
	}

	i.logger.WithFields(fields).WithFields(logrus.Fields{
		"action":      "download_finished",
		"bytes":       size,
		"duration_ms": i.clock.Since(started).Milliseconds(),
		"path":        target,
	}).Info("下载完成")
	return target, nil
}

func (i *Installer) install(ctx context.Context, loc locator.Locator, target string) (size int64, err error) {
	base := stagingPrefix + loc.FlatCacheKey() + "-" + uuid.NewString()

	staged := filepath.Join(i.stagingDir, base+".tmp")
	file, err := os.OpenFile(staged, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	if err := i.cleanup.Register(staged); err != nil {
		file.Close()
		os.Remove(staged)
		return 0, err
	}
	// 文件安装成功后 staged 已被 rename，这里的删除只会命中失败路径或目录归档
	defer func() {
		if file != nil {
			file.Close()
		}
		i.discard(staged)
	}()

	if err := i.fetcher.Fetch(ctx, loc.RemoteKey(), file); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrDoesNotExist, loc.RemoteKey())
		}
		return 0, err
	}
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	size = info.Size()
	closeErr := file.Close()
	file = nil
	if closeErr != nil {
		return 0, closeErr
	}

	if !loc.Directory {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return 0, err
		}
		if err := os.Rename(staged, target); err != nil {
			return 0, fmt.Errorf("install %s: %w", target, err)
		}
		i.cleanup.Deregister(staged)
		return size, nil
	}

	extracted := filepath.Join(i.stagingDir, base)
	if err := os.Mkdir(extracted, 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	if err := i.cleanup.Register(extracted); err != nil {
		os.RemoveAll(extracted)
		return 0, err
	}
	installed := false
	defer func() {
		if !installed {
			i.discard(extracted)
		}
	}()

	if err := extractArchive(staged, extracted); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	if err := os.Rename(extracted, target); err != nil {
		return 0, fmt.Errorf("install %s: %w", target, err)
	}
	installed = true
	i.cleanup.Deregister(extracted)
	return size, nil
}

// discard 删除临时产物并注销；路径已不存在时只注销。
func (i *Installer) discard(path string) {
	if err := os.RemoveAll(path); err != nil {
		i.logger.WithFields(logrus.Fields{
			"action": "staging_cleanup",
			"path":   path,
		}).Warn(err.Error())
		return
	}
	i.cleanup.Deregister(path)
}
