package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/datastore/internal/config"
	"github.com/any-hub/datastore/internal/locator"
	"github.com/any-hub/datastore/internal/logging"
	"github.com/any-hub/datastore/internal/server"
	"github.com/any-hub/datastore/internal/server/routes"
	"github.com/any-hub/datastore/internal/version"
)

func newRootCmd(a *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "datastore",
		Short:         "把版本化的远端数据解析为本机缓存路径",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configFlag, "config", "", "配置文件路径（可被 "+configEnv+" 指定，flag 优先）")

	root.AddCommand(
		newObjectCmd(a, "file", "解析文件对象，输出本地路径", false),
		newObjectCmd(a, "dir", "解析目录对象，输出本地路径", true),
		newResolveCmd(a),
		newServeCmd(a),
		newCheckConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func newObjectCmd(a *cliApp, use, short string, directory bool) *cobra.Command {
	var storeName string
	cmd := &cobra.Command{
		Use:   use + " <group> <name> <version>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[2])
			if err != nil || version < 0 {
				return fmt.Errorf("invalid version: %s", args[2])
			}
			if err := a.setup(); err != nil {
				return err
			}
			loc := locator.Locator{Group: args[0], Name: args[1], Version: version, Directory: directory}
			path, err := a.registry.Resolve(cmd.Context(), storeName, loc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&storeName, "store", "public", "数据仓库实例名")
	return cmd
}

func newResolveCmd(a *cliApp) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "resolve <url>...",
		Short: "解析 datastore:// 地址，非 datastore 地址原样输出",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = a.cfg.Global.Concurrency
			}
			paths, err := a.registry.ResolveAll(cmd.Context(), args, concurrency)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "并发解析数，默认取配置 Concurrency")
	return cmd
}

func newServeCmd(a *cliApp) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 解析服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if listen == "" {
				listen = fmt.Sprintf(":%d", a.cfg.Global.ListenPort)
			}
			return serve(cmd.Context(), a, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "监听地址，默认 :ListenPort")
	return cmd
}

func serve(ctx context.Context, a *cliApp, listen string) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:   a.logger,
		Registry: a.registry,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, a.registry)

	fields := logging.BaseFields("startup", a.configPath())
	fields["stores"] = a.registry.Names()
	fields["listen"] = listen
	fields["cache_dir"] = a.cfg.Global.CacheDir
	fields["credentials"] = config.CredentialModes(a.cfg.Stores)
	fields["version"] = version.Full()
	a.logger.WithFields(fields).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，停止服务")
		if err := app.Shutdown(); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func newCheckConfigCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", a.configPath())
			fields["stores"] = len(a.cfg.Stores)
			fields["cache_dir"] = a.cfg.Global.CacheDir
			fields["credentials"] = config.CredentialModes(a.cfg.Stores)
			fields["result"] = "ok"
			a.logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}
