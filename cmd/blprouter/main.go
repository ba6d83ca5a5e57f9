package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"blp-router/internal/app"
	"blp-router/internal/config"
	"blp-router/internal/log"
	"blp-router/internal/store"
)

func main() {
	var (
		configPath string
		checkOnly  bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&checkOnly, "check", false, "仅校验配置并输出插件注册顺序")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, configPath, checkOnly, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run 在返回前完成日志刷新与数据库关闭，main 只负责退出码。
func run(ctx context.Context, configPath string, checkOnly bool, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	if checkOnly {
		ids := make([]string, 0, len(cfg.Plugins))
		for _, p := range cfg.Plugins {
			ids = append(ids, strings.TrimSpace(p.ID))
		}
		_, err = fmt.Fprintf(out, "配置有效: 插件 [%s], 验证器 %d 个, 监听 %s\n",
			strings.Join(ids, ", "), len(cfg.Ledger.Verifiers), cfg.Server.Addr)
		return err
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Environment)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	if err := app.New(cfg, logger, sqliteStore).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("路由服务运行异常", zap.Error(err))
		return err
	}

	logger.Info("路由服务已安全退出")
	return nil
}
