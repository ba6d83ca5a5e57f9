package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blp-router/internal/dispatch"
	"blp-router/internal/plugin"
	"blp-router/internal/routing"
	"blp-router/internal/trade"
)

const (
	namespace            = "blp_router"
	unknownBusinessLogic = "unknown"
)

// Collector 汇总命令分发与事件路由的 Prometheus 指标。
type Collector struct {
	registry *prometheus.Registry

	commands      *prometheus.CounterVec
	events        *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	unroutable    *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
}

// NewCollector 在独立的 Registry 上注册全部指标。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched to business logic plugins.",
		}, []string{"operation", "business_logic_id", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Ledger events processed by the router, by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Sub-events delivered to business logic plugins.",
		}, []string{"business_logic_id", "result"}),
		unroutable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unroutable_total",
			Help:      "Events or sub-events no plugin claimed, by stage.",
		}, []string{"stage"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Plugin probe calls that failed and were treated as not claiming.",
		}, []string{"business_logic_id", "stage"}),
	}

	c.registry.MustRegister(
		c.commands,
		c.events,
		c.deliveries,
		c.unroutable,
		c.probeFailures,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// CommandCompleted 实现 dispatch.CommandObserver。
func (c *Collector) CommandCompleted(_ context.Context, record dispatch.CommandRecord) {
	result := commandResult(record.Err)
	businessLogicID := record.BusinessLogicID
	if result == "not_found" {
		// 未注册的标识来自调用方输入，统一归并，避免标签基数无限增长
		businessLogicID = unknownBusinessLogic
	}
	c.commands.WithLabelValues(string(record.Operation), businessLogicID, result).Inc()
}

// EventRouted 实现 routing.Observer。
func (c *Collector) EventRouted(_ context.Context, report routing.Report) {
	c.events.WithLabelValues(eventOutcome(report)).Inc()

	for _, d := range report.Deliveries {
		c.deliveries.WithLabelValues(d.BusinessLogicID, "ok").Inc()
	}
	for _, f := range report.Failures {
		c.deliveries.WithLabelValues(f.BusinessLogicID, "error").Inc()
	}
	for _, u := range report.Unroutable {
		c.unroutable.WithLabelValues(string(u.Stage)).Inc()
	}
	for _, p := range report.ProbeFailures {
		c.probeFailures.WithLabelValues(p.BusinessLogicID, string(p.Stage)).Inc()
	}
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, plugin.ErrNotFound):
		return "not_found"
	case errors.Is(err, trade.ErrUnknownTrade):
		return "unknown_trade"
	default:
		return "error"
	}
}

func eventOutcome(report routing.Report) string {
	switch {
	case report.Count == 0:
		return "unroutable"
	case report.Delivered() == report.Count:
		return "delivered"
	case report.Delivered() == 0:
		return "undelivered"
	default:
		return "partial"
	}
}
