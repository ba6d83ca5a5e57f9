package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blp-router/internal/config"
	"blp-router/internal/dispatch"
	"blp-router/internal/ledger"
	"blp-router/internal/metrics"
	"blp-router/internal/monitor"
	"blp-router/internal/plugin"
	"blp-router/internal/plugins"
	"blp-router/internal/routing"
	"blp-router/internal/store"
	"blp-router/internal/trade"
	"blp-router/internal/transport/httpapi"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

type components struct {
	registry   *plugin.Registry
	dispatcher *dispatch.Dispatcher
	router     *routing.Router
	collector  *metrics.Collector
	journal    *monitor.Service
	feeds      []*ledger.Feed
	handler    http.Handler
}

// assemble 按配置组装插件注册表、命令分发、事件路由以及观察者。
func (a *App) assemble() (*components, error) {
	c := &components{registry: plugin.NewRegistry()}

	if err := plugins.RegisterAll(c.registry, a.cfg.Plugins, a.logger); err != nil {
		return nil, fmt.Errorf("注册插件失败: %w", err)
	}

	generator, err := trade.NewGenerator(a.cfg.TradeID.Format)
	if err != nil {
		return nil, err
	}

	var (
		commandOpts = []dispatch.Option{dispatch.WithLogger(a.logger)}
		routingOpts = []routing.Option{routing.WithLogger(a.logger)}
	)

	if a.cfg.Metrics.Enabled {
		c.collector = metrics.NewCollector()
		commandOpts = append(commandOpts, dispatch.WithObserver(c.collector))
		routingOpts = append(routingOpts, routing.WithObserver(c.collector))
	}

	if a.store != nil {
		c.journal, err = monitor.NewService(a.store, a.logger)
		if err != nil {
			return nil, err
		}
		commandOpts = append(commandOpts, dispatch.WithObserver(c.journal))
		routingOpts = append(routingOpts, routing.WithObserver(c.journal))
	}

	c.dispatcher = dispatch.NewDispatcher(c.registry, trade.NewOwnershipTable(), generator, commandOpts...)
	c.router = routing.NewRouter(c.registry, routingOpts...)

	for _, verifier := range a.cfg.Ledger.Verifiers {
		c.feeds = append(c.feeds, ledger.NewFeed(verifier, a.cfg.Ledger.Retry, c.router, a.logger))
	}

	deps := httpapi.Deps{
		Commands: c.dispatcher,
		Events:   c.router,
		Registry: c.registry,
		Logger:   a.logger,
	}
	if c.journal != nil {
		deps.Journal = c.journal
		deps.Ready = a.store.Ping
	}
	if c.collector != nil {
		deps.Metrics = c.collector.Handler()
		deps.MetricsPath = a.cfg.Metrics.Path
	}
	c.handler = httpapi.NewRouter(httpapi.NewHandler(deps))

	return c, nil
}

// Run 启动 HTTP 接口与账本事件订阅，阻塞直到 ctx 结束或任一组件失败。
func (a *App) Run(ctx context.Context) error {
	c, err := a.assemble()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", a.cfg.Server.Addr, err)
	}

	a.logger.Info("交易路由已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("addr", listener.Addr().String()),
		zap.Strings("business_logic_ids", c.registry.IDs()),
		zap.Int("verifiers", len(c.feeds)),
	)

	return a.serve(ctx, c, listener)
}

func (a *App) serve(ctx context.Context, c *components, listener net.Listener) error {
	srv := &http.Server{
		Handler:      c.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务异常: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
		return nil
	})

	for _, feed := range c.feeds {
		feed := feed
		g.Go(func() error {
			return feed.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
