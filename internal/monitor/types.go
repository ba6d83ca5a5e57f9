package monitor

import (
	"time"

	"blp-router/internal/routing"
)

// EventType 表示审计记录类型。
type EventType string

const (
	EventCommand    EventType = "command"
	EventRouted     EventType = "event_routed"
	EventUnroutable EventType = "event_unroutable"
)

// Event 封装通用审计记录。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CommandPayload 记录一次命令分发。
type CommandPayload struct {
	Operation       string `json:"operation"`
	BusinessLogicID string `json:"businessLogicID,omitempty"`
	TradeID         string `json:"tradeID,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RoutingPayload 记录一次账本事件路由。
type RoutingPayload struct {
	Report routing.Report `json:"report"`
}
