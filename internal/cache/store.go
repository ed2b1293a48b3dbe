package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/datastore/internal/cleanup"
	"github.com/any-hub/datastore/internal/fetch"
	"github.com/any-hub/datastore/internal/locator"
	"github.com/any-hub/datastore/internal/lockfile"
)

// StoreOptions 描述一个数据仓库实例的磁盘位置与依赖。
type StoreOptions struct {
	// Name 是实例名（public、private 等），仅用于日志。
	Name string
	// Root 是该实例的缓存根目录，通常为 <base>/<name>。
	Root string
	// StagingDir 是共享临时区，通常为 <base>/tmp。
	StagingDir string
	Fetcher    fetch.Fetcher
	Cleanup    *cleanup.Registry
	Logger     logrus.FieldLogger
	// Locks 为空时使用默认节奏的 lockfile.Coordinator。
	Locks *lockfile.Coordinator
}

// Store 将 Locator 解析为本地路径，必要时下载并安装。
type Store struct {
	name       string
	root       string
	stagingDir string
	locks      *lockfile.Coordinator
	installer  *Installer
	logger     logrus.FieldLogger
}

// NewStore 校验路径并创建缓存根目录与临时区。
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root required")
	}
	if opts.StagingDir == "" {
		return nil, errors.New("staging dir required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	staging, err := filepath.Abs(opts.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	registry := opts.Cleanup
	if registry == nil {
		registry = cleanup.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	locks := opts.Locks
	if locks == nil {
		locks = lockfile.New(registry, logger)
	}

	return &Store{
		name:       opts.Name,
		root:       root,
		stagingDir: staging,
		locks:      locks,
		installer:  NewInstaller(opts.Name, opts.Fetcher, root, staging, registry, logger),
		logger:     logger,
	}, nil
}

// Name 返回实例名。
func (s *Store) Name() string { return s.name }

// Root 返回缓存根目录。
func (s *Store) Root() string { return s.root }

// StagingDir 返回临时区目录。
func (s *Store) StagingDir() string { return s.stagingDir }

// CachePath 返回 loc 的规范缓存路径，不检查是否存在。
func (s *Store) CachePath(loc locator.Locator) string {
	return filepath.Join(s.root, filepath.FromSlash(loc.CachePath()))
}

// LockPath 返回 loc 的锁文件路径。
func (s *Store) LockPath(loc locator.Locator) string {
	return s.CachePath(loc) + ".lock"
}

// File 解析文件对象。
func (s *Store) File(ctx context.Context, group, name string, version int) (string, error) {
	return s.Resolve(ctx, locator.File(group, name, version))
}

// Directory 解析目录对象。
func (s *Store) Directory(ctx context.Context, group, name string, version int) (string, error) {
	return s.Resolve(ctx, locator.Dir(group, name, version))
}

// Resolve 返回 loc 的本地路径。缓存命中直接返回；否则等待其它安装者、抢占锁，
// 持锁后再次检查缓存，仍未命中才下载。抢锁失败说明别的进程已开始安装，回到循环开头重新等待与检查。
func (s *Store) Resolve(ctx context.Context, loc locator.Locator) (string, error) {
	target := s.CachePath(loc)
	lockPath := s.LockPath(loc)

	for {
		if err := os.MkdirAll(s.root, 0o755); err != nil {
			return "", fmt.Errorf("create cache root: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
			return "", fmt.Errorf("create lock dir: %w", err)
		}
		if err := s.locks.WaitUntilUnlocked(ctx, lockPath); err != nil {
			return "", err
		}

		if present(target, loc.Directory) {
			return target, nil
		}

		path, acquired, err := s.installLocked(ctx, loc, target, lockPath)
		if err != nil {
			return "", err
		}
		if !acquired {
			s.logger.WithFields(logrus.Fields{
				"action":    "lock_race_lost",
				"store":     s.name,
				"lock_path": lockPath,
			}).Debug("锁已被其它进程抢占，重新等待")
			continue
		}
		return path, nil
	}
}

// installLocked 抢占锁后再次检查缓存，仍未命中才下载安装。
// 别的进程可能在上一次检查与抢锁之间完成安装并释放锁。
func (s *Store) installLocked(ctx context.Context, loc locator.Locator, target, lockPath string) (path string, acquired bool, err error) {
	acquired, err = s.locks.WithLock(lockPath, func() error {
		if present(target, loc.Directory) {
			path = target
			return nil
		}
		var installErr error
		path, installErr = s.installer.FetchAndInstall(ctx, loc)
		return installErr
	})
	return path, acquired, err
}

// present 判断规范路径上是否已有对应类型的条目。
func present(path string, directory bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if directory {
		return info.IsDir()
	}
	return info.Mode().IsRegular()
}
