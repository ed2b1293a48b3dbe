// Package locator 定义远端不可变对象的身份（group/name/version/是否目录），
// 并推导出缓存目录、远端 key 与临时文件命名所需的各类 key。所有函数均为纯计算，不做 I/O。
package locator

import (
	"fmt"
	"strings"
)

// ArchiveSuffix 是目录对象在传输过程中使用的归档后缀，落盘后不再保留。
const ArchiveSuffix = ".zip"

// Locator 唯一定位一个版本化对象，四个字段共同构成身份。
type Locator struct {
	Group     string
	Name      string
	Version   int
	Directory bool
}

// File 构造文件类型的 Locator。
func File(group, name string, version int) Locator {
	return Locator{Group: group, Name: name, Version: version}
}

// Dir 构造目录类型的 Locator。
func Dir(group, name string, version int) Locator {
	return Locator{Group: group, Name: name, Version: version, Directory: true}
}

// NameWithVersion 返回远端使用的带版本文件名：文件在最后一个扩展名前插入 -v{N}，
// 目录为 name-d{N}.zip。
func (l Locator) NameWithVersion() string {
	if l.Directory {
		return l.CacheKey() + ArchiveSuffix
	}
	return l.CacheKey()
}

// CacheKey 返回对象在 group 目录下的缓存名，例如 file-v3.txt、file-v3、mydir-d2。
func (l Locator) CacheKey() string {
	if l.Directory {
		return fmt.Sprintf("%s-d%d", l.Name, l.Version)
	}
	idx := strings.LastIndex(l.Name, ".")
	if idx < 0 {
		return fmt.Sprintf("%s-v%d", l.Name, l.Version)
	}
	return fmt.Sprintf("%s-v%d%s", l.Name[:idx], l.Version, l.Name[idx:])
}

// RemoteKey 返回对象存储中的 key：{group}/{nameWithVersion}。
func (l Locator) RemoteKey() string {
	return l.Group + "/" + l.NameWithVersion()
}

// CachePath 返回相对于缓存根目录的路径（斜杠分隔）：{group}/{cacheKey}。
func (l Locator) CachePath() string {
	return l.Group + "/" + l.CacheKey()
}

// FlatCacheKey 将 CachePath 中的路径分隔符替换为 %，用于共享临时目录中的文件名前缀。
func (l Locator) FlatCacheKey() string {
	return strings.ReplaceAll(l.CachePath(), "/", "%")
}

// Kind 返回 file 或 directory，供日志字段使用。
func (l Locator) Kind() string {
	if l.Directory {
		return "directory"
	}
	return "file"
}

func (l Locator) String() string {
	return l.Kind() + ":" + l.RemoteKey()
}
