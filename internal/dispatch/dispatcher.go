package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"blp-router/internal/plugin"
	"blp-router/internal/trade"
)

// Operation 标识一次命令调用的类型。
type Operation string

const (
	OperationStart  Operation = "start"
	OperationStatus Operation = "status"
	OperationConfig Operation = "config"
)

// CommandRecord 描述一次已完成的命令调用。
type CommandRecord struct {
	Operation       Operation
	BusinessLogicID string
	TradeID         string
	Err             error
}

// CommandObserver 接收命令执行结果，用于指标与审计。
type CommandObserver interface {
	CommandCompleted(ctx context.Context, record CommandRecord)
}

// Dispatcher 将调用方发起的命令转发给指定插件。
type Dispatcher struct {
	registry  *plugin.Registry
	owners    *trade.OwnershipTable
	generator trade.Generator
	observers []CommandObserver
	logger    *zap.Logger
}

// Option 调整 Dispatcher 的可选依赖。
type Option func(*Dispatcher)

// WithObserver 追加命令观察者。
func WithObserver(observer CommandObserver) Option {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observers = append(d.observers, observer)
		}
	}
}

// WithLogger 设置日志实例。
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher 创建命令分发器。generator 为空时使用 UUID 生成器。
func NewDispatcher(registry *plugin.Registry, owners *trade.OwnershipTable, generator trade.Generator, opts ...Option) *Dispatcher {
	if generator == nil {
		generator = trade.UUIDGenerator{}
	}
	d := &Dispatcher{
		registry:  registry,
		owners:    owners,
		generator: generator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StartOperation 生成交易标识并交给目标插件登记，成功后写入归属表。
func (d *Dispatcher) StartOperation(ctx context.Context, req plugin.StartRequest) (tradeID string, err error) {
	businessLogicID := strings.TrimSpace(req.BusinessLogicID)
	defer func() {
		d.notify(ctx, CommandRecord{Operation: OperationStart, BusinessLogicID: businessLogicID, TradeID: tradeID, Err: err})
	}()

	handler, err := d.registry.Lookup(businessLogicID)
	if err != nil {
		return "", err
	}

	id, err := d.generator.Generate()
	if err != nil {
		return "", err
	}

	if err = handler.StartTransaction(ctx, req, businessLogicID, id); err != nil {
		return "", fmt.Errorf("dispatch: 插件 %q 启动交易失败: %w", businessLogicID, err)
	}

	if err = d.owners.Assign(id, businessLogicID); err != nil {
		return "", err
	}

	d.logger.Info("交易已创建",
		zap.String("business_logic_id", businessLogicID),
		zap.String("trade_id", id),
	)
	return id, nil
}

// OperationStatus 通过归属表定位插件并原样返回其状态结果。
func (d *Dispatcher) OperationStatus(ctx context.Context, tradeID string) (result plugin.StatusResult, err error) {
	var businessLogicID string
	defer func() {
		d.notify(ctx, CommandRecord{Operation: OperationStatus, BusinessLogicID: businessLogicID, TradeID: tradeID, Err: err})
	}()

	businessLogicID, err = d.owners.Owner(tradeID)
	if err != nil {
		return plugin.StatusResult{}, err
	}

	handler, err := d.registry.Lookup(businessLogicID)
	if err != nil {
		return plugin.StatusResult{}, err
	}

	result, err = handler.OperationStatus(ctx, tradeID)
	if err != nil {
		return plugin.StatusResult{}, fmt.Errorf("dispatch: 插件 %q 查询交易状态失败: %w", businessLogicID, err)
	}
	return result, nil
}

// SetConfig 直接按插件标识下发配置，不经过归属表。
func (d *Dispatcher) SetConfig(ctx context.Context, businessLogicID string, meterParams []string) (result plugin.ConfigResult, err error) {
	businessLogicID = strings.TrimSpace(businessLogicID)
	defer func() {
		d.notify(ctx, CommandRecord{Operation: OperationConfig, BusinessLogicID: businessLogicID, Err: err})
	}()

	handler, err := d.registry.Lookup(businessLogicID)
	if err != nil {
		return plugin.ConfigResult{}, err
	}

	result, err = handler.SetConfig(ctx, meterParams)
	if err != nil {
		return plugin.ConfigResult{}, fmt.Errorf("dispatch: 插件 %q 设置配置失败: %w", businessLogicID, err)
	}
	return result, nil
}

func (d *Dispatcher) notify(ctx context.Context, record CommandRecord) {
	if record.Err != nil {
		d.logger.Warn("命令执行失败",
			zap.String("operation", string(record.Operation)),
			zap.String("business_logic_id", record.BusinessLogicID),
			zap.String("trade_id", record.TradeID),
			zap.Error(record.Err),
		)
	}
	for _, o := range d.observers {
		o.CommandCompleted(ctx, record)
	}
}
