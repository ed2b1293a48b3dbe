package locator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Scheme 是 datastore 便捷写法的协议前缀。
const Scheme = "datastore://"

// ErrNotDatastoreURL 表示输入不是可识别的 datastore:// 地址，调用方应原样使用。
var ErrNotDatastoreURL = errors.New("not a datastore url")

var (
	fileWithExtension    = regexp.MustCompile(`^datastore://([^/]+)/([^/]+)/(.+)-v(\d+)\.(.*)$`)
	fileWithoutExtension = regexp.MustCompile(`^datastore://([^/]+)/([^/]+)/(.+)-v(\d+)$`)
	directoryPattern     = regexp.MustCompile(`^datastore://([^/]+)/([^/]+)/(.+)-d(\d+)(?:/(.*))?$`)
)

// URL 是解析后的 datastore 地址：目标实例、对象 Locator，以及目录内的相对路径。
type URL struct {
	Store   string
	Locator Locator
	// Inner 仅对目录有效，指向目录内的文件，可为空。
	Inner string
}

// ParseURL 解析 datastore://{store}/{group}/{name}-v{N}[.ext] 或
// datastore://{store}/{group}/{name}-d{N}[/{inner}]。按以下顺序匹配：
// 带扩展名的文件 → 无扩展名的文件 → 目录。
func ParseURL(raw string) (URL, error) {
	if m := fileWithExtension.FindStringSubmatch(raw); m != nil {
		version, err := parseVersion(m[4], raw)
		if err != nil {
			return URL{}, err
		}
		return URL{Store: m[1], Locator: File(m[2], m[3]+"."+m[5], version)}, nil
	}
	if m := fileWithoutExtension.FindStringSubmatch(raw); m != nil {
		version, err := parseVersion(m[4], raw)
		if err != nil {
			return URL{}, err
		}
		return URL{Store: m[1], Locator: File(m[2], m[3], version)}, nil
	}
	if m := directoryPattern.FindStringSubmatch(raw); m != nil {
		version, err := parseVersion(m[4], raw)
		if err != nil {
			return URL{}, err
		}
		return URL{Store: m[1], Locator: Dir(m[2], m[3], version), Inner: m[5]}, nil
	}
	return URL{}, ErrNotDatastoreURL
}

// String 以 datastore:// 形式还原地址。
func (u URL) String() string {
	s := Scheme + u.Store + "/" + u.Locator.Group + "/" + u.Locator.CacheKey()
	if u.Locator.Directory && u.Inner != "" {
		s += "/" + u.Inner
	}
	return s
}

func parseVersion(raw, url string) (int, error) {
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid version in %s: %w", url, err)
	}
	return version, nil
}
