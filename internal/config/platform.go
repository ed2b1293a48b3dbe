package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// CacheDirEnv 覆盖缓存根目录的环境变量。
const CacheDirEnv = "AI2_DATASTORE_DIR"

// ErrUnsupportedPlatform 表示当前操作系统没有约定的默认缓存目录，需要显式配置。
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var (
	currentOS   = runtime.GOOS
	userHomeDir = os.UserHomeDir
)

// DefaultCacheDir 返回当前平台约定的缓存根目录。
func DefaultCacheDir() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("无法获取用户目录: %w", err)
	}
	return cacheDirFor(currentOS, home)
}

func cacheDirFor(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "org.allenai.datastore"), nil
	case "linux":
		return filepath.Join(home, ".ai2", "datastore"), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}
