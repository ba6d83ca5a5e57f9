package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"blp-router/internal/monitor"
	"blp-router/internal/plugin"
	"blp-router/internal/routing"
)

// Commands 为命令分发能力，由 dispatch.Dispatcher 实现。
type Commands interface {
	StartOperation(ctx context.Context, req plugin.StartRequest) (string, error)
	OperationStatus(ctx context.Context, tradeID string) (plugin.StatusResult, error)
	SetConfig(ctx context.Context, businessLogicID string, meterParams []string) (plugin.ConfigResult, error)
}

// Events 为事件路由能力，由 routing.Router 实现。
type Events interface {
	OnEvent(ctx context.Context, event plugin.LedgerEvent) routing.Report
}

// Journal 为审计记录查询能力，由 monitor.Service 实现。
type Journal interface {
	ListEvents(ctx context.Context, q monitor.Query) ([]monitor.Event, error)
}

// Deps 聚合 HTTP 层依赖。Journal、Metrics、Ready 可为空。
type Deps struct {
	Commands    Commands
	Events      Events
	Registry    *plugin.Registry
	Journal     Journal
	Metrics     http.Handler
	MetricsPath string
	Ready       func(ctx context.Context) error
	Logger      *zap.Logger
}

// Handler 为 HTTP 接入层，只做协议转换，业务全部委托给 Commands 与 Events。
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler 创建 HTTP 处理器。
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger}
}

// NewRouter 注册全部路由。路径沿用 /api/v1/bl 前缀。
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if h.deps.Metrics != nil {
		path := h.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, h.deps.Metrics)
	}

	r.Route("/api/v1/bl", func(r chi.Router) {
		r.Post("/trades", h.startOperation)
		r.Get("/trades/{tradeID}", h.operationStatus)
		r.Put("/config", h.setConfig)
		r.Post("/events", h.routeEvent)
		r.Get("/plugins", h.listPlugins)
		r.Get("/journal", h.listJournal)
	})

	return r
}
