package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/datastore/internal/cleanup"
	"github.com/any-hub/datastore/internal/config"
	"github.com/any-hub/datastore/internal/logging"
	"github.com/any-hub/datastore/internal/registry"
)

// configEnv 指定默认配置文件路径，--config 优先。
const configEnv = "DATASTORE_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行一次 CLI 调用并返回退出码。无论成功、失败还是收到 SIGINT/SIGTERM，
// 返回前都会删除本进程遗留的锁文件与临时文件。
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &cliApp{cleanup: cleanup.New()}
	defer a.drain()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stdErr, "error: %v\n", err)
		return 1
	}
	return 0
}

// cliApp 持有一次 CLI 调用期间共享的依赖，子命令按需初始化。
type cliApp struct {
	configFlag string
	cleanup    *cleanup.Registry

	cfg      *config.Config
	logger   *logrus.Logger
	registry *registry.Registry
}

// configPath 结合环境变量计算最终的配置路径；两者都为空时只使用默认值。
func (a *cliApp) configPath() string {
	if a.configFlag != "" {
		return a.configFlag
	}
	return os.Getenv(configEnv)
}

// loadConfig 加载配置并初始化日志。
func (a *cliApp) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath())
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// setup 在 loadConfig 基础上构建各数据仓库实例。
func (a *cliApp) setup() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.registry != nil {
		return nil
	}
	reg, err := registry.New(a.cfg, a.cleanup, a.logger)
	if err != nil {
		return fmt.Errorf("初始化数据仓库失败: %w", err)
	}
	a.registry = reg
	return nil
}

func (a *cliApp) drain() {
	pending := a.cleanup.Pending()
	if err := a.cleanup.DrainAll(); err != nil {
		fmt.Fprintf(stdErr, "cleanup_failed: %v\n", err)
		return
	}
	if len(pending) > 0 && a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"action": "cleanup",
			"paths":  pending,
		}).Warn("已删除未完成的锁与临时文件")
	}
}
