// Package txwatch 提供一个跟踪账本交易的参考业务逻辑插件。
//
// 启动请求携带需要关注的账本交易标识；账本事件的 data 形如 {"txIds": [...]}，
// 每个交易标识对应一个子事件，归属于登记过该交易标识的插件实例。
package txwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"blp-router/internal/plugin"
)

// Kind 为配置中的插件类型名。
const Kind = "txwatch"

// Settings 为插件配置。
type Settings struct {
	// Verifier 非空时只认领该验证器推送的事件。
	Verifier string `mapstructure:"verifier"`
}

// EventRecord 记录一次投递到本插件的子事件。
type EventRecord struct {
	EventID    string    `json:"eventID"`
	VerifierID string    `json:"verifierID"`
	Index      int       `json:"index"`
	TxID       string    `json:"txId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// TradeStatus 为状态查询返回的业务结果。
type TradeStatus struct {
	TxIDs     []string      `json:"txIds"`
	Events    []EventRecord `json:"events"`
	Completed bool          `json:"completed"`
	StartedAt time.Time     `json:"startedAt"`
}

type startBody struct {
	TxIDs []string `json:"txIds"`
}

type eventData struct {
	TxIDs []string `json:"txIds"`
}

type tradeState struct {
	txIDs     []string
	events    []EventRecord
	startedAt time.Time
}

// Plugin 为 txwatch 插件实例。
type Plugin struct {
	id       string
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	trades      map[string]*tradeState
	txOwner     map[string]string
	meterParams []string
}

var _ plugin.Handler = (*Plugin)(nil)

// New 创建插件实例。
func New(id string, settings Settings, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{
		id:       id,
		settings: settings,
		logger:   logger.With(zap.String("business_logic_id", id)),
		now:      func() time.Time { return time.Now().UTC() },
		trades:   make(map[string]*tradeState),
		txOwner:  make(map[string]string),
	}
}

// StartTransaction 登记交易及其关注的账本交易标识。
func (p *Plugin) StartTransaction(_ context.Context, req plugin.StartRequest, businessLogicID, tradeID string) error {
	if businessLogicID != p.id {
		return fmt.Errorf("txwatch: 请求目标 %q 与插件 %q 不一致", businessLogicID, p.id)
	}

	var body startBody
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return fmt.Errorf("txwatch: 解析启动请求失败: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.trades[tradeID]; ok {
		return fmt.Errorf("txwatch: 交易 %q 已存在", tradeID)
	}
	txIDs := make([]string, 0, len(body.TxIDs))
	for _, tx := range body.TxIDs {
		tx = strings.TrimSpace(tx)
		if tx == "" {
			continue
		}
		if owner, taken := p.txOwner[tx]; taken {
			return fmt.Errorf("txwatch: 账本交易 %q 已由交易 %q 关注", tx, owner)
		}
		txIDs = append(txIDs, tx)
	}
	for _, tx := range txIDs {
		p.txOwner[tx] = tradeID
	}
	p.trades[tradeID] = &tradeState{txIDs: txIDs, startedAt: p.now()}

	p.logger.Info("交易已登记", zap.String("trade_id", tradeID), zap.Strings("tx_ids", txIDs))
	return nil
}

// OperationStatus 返回交易关注的账本交易与已收到的事件。
func (p *Plugin) OperationStatus(_ context.Context, tradeID string) (plugin.StatusResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.trades[tradeID]
	if !ok {
		return plugin.StatusResult{}, fmt.Errorf("txwatch: 插件 %q 未登记交易 %q", p.id, tradeID)
	}

	events := make([]EventRecord, len(st.events))
	copy(events, st.events)
	return plugin.StatusResult{
		BusinessLogicID: p.id,
		TradeID:         tradeID,
		Response: TradeStatus{
			TxIDs:     append([]string(nil), st.txIDs...),
			Events:    events,
			Completed: completed(st),
			StartedAt: st.startedAt,
		},
	}, nil
}

// SetConfig 保存计量参数并原样回显。
func (p *Plugin) SetConfig(_ context.Context, meterParams []string) (plugin.ConfigResult, error) {
	p.mu.Lock()
	p.meterParams = append([]string(nil), meterParams...)
	p.mu.Unlock()

	return plugin.ConfigResult{BusinessLogicID: p.id, MeterParams: meterParams}, nil
}

// MeterParams 返回最近一次配置的计量参数。
func (p *Plugin) MeterParams() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.meterParams...)
}

// EventDataCount 对可识别的事件返回交易标识数量。
func (p *Plugin) EventDataCount(_ context.Context, event plugin.LedgerEvent) (int, error) {
	data, ok := p.decode(event)
	if !ok {
		return 0, nil
	}
	return len(data.TxIDs), nil
}

// TradeIDFromEvent 返回第 index 个账本交易标识。
func (p *Plugin) TradeIDFromEvent(_ context.Context, event plugin.LedgerEvent, index int) (string, error) {
	data, ok := p.decode(event)
	if !ok || index < 0 || index >= len(data.TxIDs) {
		return "", nil
	}
	return strings.TrimSpace(data.TxIDs[index]), nil
}

// OwnsTrade 判断账本交易标识是否由本插件的某笔交易关注。
func (p *Plugin) OwnsTrade(_ context.Context, txID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.txOwner[txID]
	return ok, nil
}

// OnEvent 将子事件记入对应交易。
func (p *Plugin) OnEvent(_ context.Context, event plugin.LedgerEvent, index int) error {
	data, ok := p.decode(event)
	if !ok || index < 0 || index >= len(data.TxIDs) {
		return fmt.Errorf("txwatch: 事件 %q 不包含子事件 %d", event.ID, index)
	}
	txID := strings.TrimSpace(data.TxIDs[index])

	p.mu.Lock()
	defer p.mu.Unlock()

	tradeID, ok := p.txOwner[txID]
	if !ok {
		return fmt.Errorf("txwatch: 账本交易 %q 不属于插件 %q", txID, p.id)
	}
	st := p.trades[tradeID]
	st.events = append(st.events, EventRecord{
		EventID:    event.ID,
		VerifierID: event.VerifierID,
		Index:      index,
		TxID:       txID,
		ReceivedAt: p.now(),
	})

	p.logger.Info("收到账本事件",
		zap.String("trade_id", tradeID),
		zap.String("event_id", event.ID),
		zap.String("tx_id", txID),
	)
	return nil
}

func (p *Plugin) decode(event plugin.LedgerEvent) (eventData, bool) {
	if p.settings.Verifier != "" && event.VerifierID != p.settings.Verifier {
		return eventData{}, false
	}
	var data eventData
	if len(event.Data) == 0 || json.Unmarshal(event.Data, &data) != nil {
		return eventData{}, false
	}
	return data, len(data.TxIDs) > 0
}

// completed 在每个关注的账本交易都至少收到一次事件后返回 true。
func completed(st *tradeState) bool {
	if len(st.txIDs) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(st.events))
	for _, e := range st.events {
		seen[e.TxID] = struct{}{}
	}
	for _, tx := range st.txIDs {
		if _, ok := seen[tx]; !ok {
			return false
		}
	}
	return true
}
