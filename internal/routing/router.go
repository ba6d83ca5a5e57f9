package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"blp-router/internal/plugin"
)

// Observer 接收每次路由的结果报告。
type Observer interface {
	EventRouted(ctx context.Context, report Report)
}

// Router 将不带插件标识的账本事件路由给唯一的所属插件。
//
// 路由按注册顺序依次询问插件：先取第一个非零的子事件数量，再对每个子事件解析交易标识、
// 确认归属并投递。每个阶段均为先到先得，注册顺序即决胜顺序。
type Router struct {
	registry  *plugin.Registry
	observers []Observer
	logger    *zap.Logger
}

// Option 调整 Router 的可选依赖。
type Option func(*Router)

// WithObserver 追加路由观察者。
func WithObserver(observer Observer) Option {
	return func(r *Router) {
		if observer != nil {
			r.observers = append(r.observers, observer)
		}
	}
}

// WithLogger 设置日志实例。
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter 创建事件路由器。
func NewRouter(registry *plugin.Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnEvent 同步执行一次完整的路由流水线并返回报告。
// 无法路由属于正常结果，记录在报告中而不是作为错误返回。
func (r *Router) OnEvent(ctx context.Context, event plugin.LedgerEvent) Report {
	report := Report{
		EventID:    event.ID,
		VerifierID: event.VerifierID,
		Deliveries: []Delivery{},
		Unroutable: []Unroutable{},
		Failures:   []Failure{},

		ProbeFailures: []ProbeFailure{},
	}
	defer r.notify(ctx, &report)

	entries := r.registry.All()
	logger := r.logger.With(zap.String("event_id", event.ID), zap.String("verifier_id", event.VerifierID))

	report.Count = r.eventDataCount(ctx, logger, entries, event, &report)
	if report.Count == 0 {
		report.Unroutable = append(report.Unroutable, Unroutable{Index: -1, Stage: StageCount})
		logger.Warn("账本事件无插件认领")
		return report
	}

	for index := 0; index < report.Count; index++ {
		r.routeIndex(ctx, logger.With(zap.Int("target_index", index)), entries, event, index, &report)
	}

	logger.Debug("账本事件路由完成",
		zap.Int("count", report.Count),
		zap.Int("delivered", report.Delivered()),
		zap.Int("unroutable", len(report.Unroutable)),
		zap.Int("failed", len(report.Failures)),
	)
	return report
}

func (r *Router) routeIndex(ctx context.Context, logger *zap.Logger, entries []plugin.Entry, event plugin.LedgerEvent, index int, report *Report) {
	tradeID := r.tradeIDFromEvent(ctx, logger, entries, event, index, report)
	if tradeID == "" {
		report.Unroutable = append(report.Unroutable, Unroutable{Index: index, Stage: StageResolve})
		logger.Warn("子事件无法解析交易标识")
		return
	}

	owner, ok := r.owner(ctx, logger, entries, index, tradeID, report)
	if !ok {
		report.Unroutable = append(report.Unroutable, Unroutable{Index: index, Stage: StageOwnership, TradeID: tradeID})
		logger.Warn("子事件交易无插件持有", zap.String("trade_id", tradeID))
		return
	}

	err := guard(func() error { return owner.Handler.OnEvent(ctx, event, index) })
	if err != nil {
		report.Failures = append(report.Failures, Failure{
			Index:           index,
			BusinessLogicID: owner.ID,
			Err:             err,
			Message:         err.Error(),
		})
		logger.Error("子事件投递失败",
			zap.String("business_logic_id", owner.ID),
			zap.String("trade_id", tradeID),
			zap.Error(err),
		)
		return
	}

	report.Deliveries = append(report.Deliveries, Delivery{Index: index, TradeID: tradeID, BusinessLogicID: owner.ID})
	logger.Info("子事件已投递",
		zap.String("business_logic_id", owner.ID),
		zap.String("trade_id", tradeID),
	)
}

func (r *Router) eventDataCount(ctx context.Context, logger *zap.Logger, entries []plugin.Entry, event plugin.LedgerEvent, report *Report) int {
	for _, e := range entries {
		var n int
		err := guard(func() (err error) {
			n, err = e.Handler.EventDataCount(ctx, event)
			return err
		})
		if err != nil {
			probeFailed(logger, report, -1, StageCount, e.ID, err)
			continue
		}
		if n > 0 {
			return n
		}
		if n < 0 {
			logger.Warn("插件返回负的子事件数量，视为不认领", zap.String("business_logic_id", e.ID), zap.Int("count", n))
		}
	}
	return 0
}

func (r *Router) tradeIDFromEvent(ctx context.Context, logger *zap.Logger, entries []plugin.Entry, event plugin.LedgerEvent, index int, report *Report) string {
	for _, e := range entries {
		var tradeID string
		err := guard(func() (err error) {
			tradeID, err = e.Handler.TradeIDFromEvent(ctx, event, index)
			return err
		})
		if err != nil {
			probeFailed(logger, report, index, StageResolve, e.ID, err)
			continue
		}
		if tradeID != "" {
			return tradeID
		}
	}
	return ""
}

// owner 在仅注册一个插件时直接认定其为所属插件，不调用归属探测。
func (r *Router) owner(ctx context.Context, logger *zap.Logger, entries []plugin.Entry, index int, tradeID string, report *Report) (plugin.Entry, bool) {
	if len(entries) == 1 {
		return entries[0], true
	}
	for _, e := range entries {
		var owns bool
		err := guard(func() (err error) {
			owns, err = e.Handler.OwnsTrade(ctx, tradeID)
			return err
		})
		if err != nil {
			probeFailed(logger, report, index, StageOwnership, e.ID, err)
			continue
		}
		if owns {
			return e, true
		}
	}
	return plugin.Entry{}, false
}

func (r *Router) notify(ctx context.Context, report *Report) {
	for _, o := range r.observers {
		o.EventRouted(ctx, *report)
	}
}

// ProbeError 表示插件在探测阶段失败，路由器将其视为不认领。
type ProbeError struct {
	Stage           Stage
	BusinessLogicID string
	Err             error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("routing: 插件 %q 在 %s 阶段探测失败: %v", e.BusinessLogicID, e.Stage, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

func probeFailed(logger *zap.Logger, report *Report, index int, stage Stage, businessLogicID string, err error) {
	probeErr := &ProbeError{Stage: stage, BusinessLogicID: businessLogicID, Err: err}
	report.ProbeFailures = append(report.ProbeFailures, ProbeFailure{
		Index:           index,
		Stage:           stage,
		BusinessLogicID: businessLogicID,
		Message:         err.Error(),
	})
	logger.Warn("插件探测失败，视为不认领", zap.Error(probeErr))
}

// guard 将插件内的 panic 转换为错误，避免单个插件中断整条路由。
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panic: %v", rec)
		}
	}()
	return fn()
}
