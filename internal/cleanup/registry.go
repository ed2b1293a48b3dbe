// Package cleanup 维护进程级的“退出前需删除”路径集合。锁文件、临时文件与临时目录
// 创建后立即登记，完成 rename 或主动清理后注销；进程正常退出时由 main 调用 DrainAll
// 统一强制删除剩余路径。
package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrRelativePath 表示尝试登记非绝对路径，防止误删当前目录下的同名文件。
var ErrRelativePath = errors.New("cleanup path must be absolute")

// Registry 是并发安全的路径集合，由进程上下文持有并以指针传递给各组件。
type Registry struct {
	mu      sync.Mutex
	paths   map[string]struct{}
	drained bool
}

// New 返回一个空的 Registry。
func New() *Registry {
	return &Registry{paths: make(map[string]struct{})}
}

// Register 登记待清理路径，仅接受绝对路径。
func (r *Registry) Register(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrRelativePath, path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[filepath.Clean(path)] = struct{}{}
	return nil
}

// Deregister 在资源被正式接管（rename 到缓存）或已被主动删除后注销路径。
func (r *Registry) Deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, filepath.Clean(path))
}

// Pending 返回当前待清理路径的有序快照。
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]string, 0, len(r.paths))
	for path := range r.paths {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// DrainAll 强制删除所有剩余路径（目录递归删除），只执行一次，之后的调用直接返回。
func (r *Registry) DrainAll() error {
	r.mu.Lock()
	if r.drained {
		r.mu.Unlock()
		return nil
	}
	r.drained = true
	paths := r.paths
	r.paths = make(map[string]struct{})
	r.mu.Unlock()

	var errs []error
	for path := range paths {
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
