package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 支持的远端后端。
const (
	BackendHTTP = "http"
	BackendOCI  = "oci"
)

// GlobalConfig 描述全局运行时行为，所有数据仓库实例共享同一份参数。
type GlobalConfig struct {
	ListenPort     int      `mapstructure:"ListenPort"`
	LogLevel       string   `mapstructure:"LogLevel"`
	LogFormat      string   `mapstructure:"LogFormat"`
	LogFilePath    string   `mapstructure:"LogFilePath"`
	LogMaxSize     int      `mapstructure:"LogMaxSize"`
	LogMaxBackups  int      `mapstructure:"LogMaxBackups"`
	LogCompress    bool     `mapstructure:"LogCompress"`
	CacheDir       string   `mapstructure:"CacheDir"`
	MaxRetries     int      `mapstructure:"MaxRetries"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	FetchTimeout   Duration `mapstructure:"FetchTimeout"`
	PollInterval   Duration `mapstructure:"PollInterval"`
	Concurrency    int      `mapstructure:"Concurrency"`
}

// StoreConfig 描述一个数据仓库实例（public、private 等）及其远端。
type StoreConfig struct {
	Name     string `mapstructure:"Name"`
	Upstream string `mapstructure:"Upstream"`
	Backend  string `mapstructure:"Backend"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Stores []StoreConfig `mapstructure:"Store"`
}

// HasCredentials 表示当前实例是否配置了完整的上游凭证。
func (s StoreConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s StoreConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有实例的鉴权模式摘要，例如 private:credentialed。
func CredentialModes(stores []StoreConfig) []string {
	if len(stores) == 0 {
		return nil
	}
	result := make([]string, len(stores))
	for i, store := range stores {
		result[i] = fmt.Sprintf("%s:%s", store.Name, store.AuthMode())
	}
	return result
}

// StagingDir 返回所有实例共享的临时区，与缓存位于同一文件系统。
func (c *Config) StagingDir() string {
	return filepath.Join(c.Global.CacheDir, "tmp")
}

// StoreRoot 返回实例的缓存根目录。
func (c *Config) StoreRoot(name string) string {
	return filepath.Join(c.Global.CacheDir, name)
}

// Store 按名称查找实例配置。
func (c *Config) Store(name string) (StoreConfig, bool) {
	for _, store := range c.Stores {
		if store.Name == name {
			return store, true
		}
	}
	return StoreConfig{}, false
}
