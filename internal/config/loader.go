package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultUpstreamTemplate 是 HTTP 后端的默认上游，%s 为实例名。
const DefaultUpstreamTemplate = "https://%s.store.dev.allenai.org.s3.amazonaws.com"

// DefaultStoreNames 是未配置 [[Store]] 时启用的实例。
var DefaultStoreNames = []string{"public", "private"}

// Load 读取 TOML 配置并注入默认值与校验逻辑。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := v.BindEnv("CacheDir", CacheDirEnv); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := applyGlobalDefaults(&cfg.Global); err != nil {
		return nil, err
	}
	if len(cfg.Stores) == 0 {
		for _, name := range DefaultStoreNames {
			cfg.Stores = append(cfg.Stores, StoreConfig{Name: name})
		}
	}
	for i := range cfg.Stores {
		applyStoreDefaults(&cfg.Stores[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Global.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheDir = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("FetchTimeout", "60s")
	v.SetDefault("PollInterval", "1s")
	v.SetDefault("Concurrency", 4)
}

func applyGlobalDefaults(g *GlobalConfig) error {
	if strings.TrimSpace(g.CacheDir) == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return fmt.Errorf("%w (请设置 %s 或 CacheDir)", err, CacheDirEnv)
		}
		g.CacheDir = dir
	}
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(60 * time.Second)
	}
	if g.PollInterval.DurationValue() == 0 {
		g.PollInterval = Duration(time.Second)
	}
	if g.Concurrency == 0 {
		g.Concurrency = 4
	}
	return nil
}

func applyStoreDefaults(s *StoreConfig) {
	s.Name = strings.TrimSpace(s.Name)
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendHTTP
	}
	if s.Upstream == "" && s.Backend == BackendHTTP && s.Name != "" {
		s.Upstream = fmt.Sprintf(DefaultUpstreamTemplate, s.Name)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
