package plugin

import (
	"context"
	"encoding/json"
)

// LedgerEvent 为验证器适配器推送的账本事件，本身不携带目标插件标识。
type LedgerEvent struct {
	ID         string          `json:"id"`
	VerifierID string          `json:"verifierId"`
	Data       json.RawMessage `json:"data"`
}

// StartRequest 为启动业务逻辑的请求，Body 原样交给插件解析。
type StartRequest struct {
	BusinessLogicID string          `json:"businessLogicID"`
	Body            json.RawMessage `json:"body,omitempty"`
}

// StatusResult 为插件返回的交易状态。
type StatusResult struct {
	BusinessLogicID string `json:"businessLogicID"`
	TradeID         string `json:"tradeID"`
	Response        any    `json:"response"`
}

// ConfigResult 为插件处理配置请求后的回执。
type ConfigResult struct {
	BusinessLogicID string   `json:"businessLogicID"`
	MeterParams     []string `json:"meterParams"`
	Response        any      `json:"response,omitempty"`
}

// Handler 是业务逻辑插件(BLP)必须实现的能力集合。
//
// 所有调用都是同步阻塞的。三个探测方法(EventDataCount、TradeIDFromEvent、OwnsTrade)
// 只应对自己能识别的事件作出肯定回答，否则返回 0 / 空串 / false。
type Handler interface {
	// StartTransaction 登记一笔新交易，插件需自行保存以便后续状态查询。
	StartTransaction(ctx context.Context, req StartRequest, businessLogicID, tradeID string) error
	OperationStatus(ctx context.Context, tradeID string) (StatusResult, error)
	SetConfig(ctx context.Context, meterParams []string) (ConfigResult, error)

	// EventDataCount 返回该插件认领的子事件数量，不认领时返回 0。
	EventDataCount(ctx context.Context, event LedgerEvent) (int, error)
	// TradeIDFromEvent 解析第 index 个子事件对应的交易标识，无法解析时返回空串。
	TradeIDFromEvent(ctx context.Context, event LedgerEvent, index int) (string, error)
	OwnsTrade(ctx context.Context, tradeID string) (bool, error)
	// OnEvent 投递第 index 个子事件。
	OnEvent(ctx context.Context, event LedgerEvent, index int) error
}

// Base 提供探测能力的默认实现，插件可嵌入后只覆盖需要的方法。
// 单插件部署无需实现 OwnsTrade，路由器不会调用它。
type Base struct{}

// EventDataCount 默认不认领任何事件。
func (Base) EventDataCount(context.Context, LedgerEvent) (int, error) { return 0, nil }

// TradeIDFromEvent 默认无法解析交易标识。
func (Base) TradeIDFromEvent(context.Context, LedgerEvent, int) (string, error) { return "", nil }

// OwnsTrade 默认不持有任何交易。
func (Base) OwnsTrade(context.Context, string) (bool, error) { return false, nil }

// OnEvent 默认丢弃事件。
func (Base) OnEvent(context.Context, LedgerEvent, int) error { return nil }
