package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"
)

// reservedStoreNames 与缓存根目录下的其它用途冲突。
var reservedStoreNames = map[string]struct{}{
	"tmp": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.CacheDir == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.PollInterval.DurationValue() <= 0 {
		return newFieldError("Global.PollInterval", "必须大于 0")
	}
	if g.Concurrency <= 0 {
		return newFieldError("Global.Concurrency", "必须大于 0")
	}

	if len(c.Stores) == 0 {
		return errors.New("至少需要配置一个 Store")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Stores {
		store := &c.Stores[i]
		if store.Name == "" {
			return newFieldError("Store[].Name", "不能为空")
		}
		if strings.ContainsAny(store.Name, `/\`) || store.Name == "." || store.Name == ".." {
			return newFieldError(storeField(store.Name, "Name"), "不能包含路径分隔符")
		}
		if _, reserved := reservedStoreNames[store.Name]; reserved {
			return newFieldError(storeField(store.Name, "Name"), "名称已被保留")
		}
		if _, exists := seenNames[store.Name]; exists {
			return newFieldError(storeField(store.Name, "Name"), "重复")
		}
		seenNames[store.Name] = struct{}{}

		if (store.Username == "") != (store.Password == "") {
			return newFieldError(storeField(store.Name, "Username/Password"), "必须同时提供或同时留空")
		}

		switch store.Backend {
		case BackendHTTP:
			if err := validateUpstream(store.Upstream); err != nil {
				return fmt.Errorf("%s: %w", storeField(store.Name, "Upstream"), err)
			}
		case BackendOCI:
			if store.Upstream == "" {
				return newFieldError(storeField(store.Name, "Upstream"), "oci 后端必须提供 registry 仓库地址")
			}
			if _, err := name.NewRepository(strings.TrimSuffix(store.Upstream, "/")); err != nil {
				return fmt.Errorf("%s: %w", storeField(store.Name, "Upstream"), err)
			}
		default:
			return newFieldError(storeField(store.Name, "Backend"), "仅支持 http|oci")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("Upstream 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效的 Upstream: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https Upstream: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("Upstream 缺少 Host: %s", raw)
	}
	return nil
}
