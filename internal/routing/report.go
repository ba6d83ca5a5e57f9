package routing

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrUnroutableEvent 表示没有插件认领事件或其中某个子事件。属于预期结果，不应中断后续处理。
var ErrUnroutableEvent = errors.New("unroutable ledger event")

// Stage 标识路由流水线中的阶段。
type Stage string

const (
	StageCount     Stage = "count"
	StageResolve   Stage = "resolve"
	StageOwnership Stage = "ownership"
)

// Delivery 记录一次成功投递。
type Delivery struct {
	Index           int    `json:"index"`
	TradeID         string `json:"tradeID"`
	BusinessLogicID string `json:"businessLogicID"`
}

// Unroutable 记录无法路由的事件或子事件。整个事件无人认领时 Index 为 -1。
type Unroutable struct {
	Index   int    `json:"index"`
	Stage   Stage  `json:"stage"`
	TradeID string `json:"tradeID,omitempty"`
}

// Failure 记录插件投递时返回的错误。
type Failure struct {
	Index           int    `json:"index"`
	BusinessLogicID string `json:"businessLogicID"`
	Err             error  `json:"-"`
	Message         string `json:"error"`
}

// ProbeFailure 记录插件在探测阶段返回的错误或 panic。计数阶段的 Index 为 -1。
type ProbeFailure struct {
	Index           int    `json:"index"`
	Stage           Stage  `json:"stage"`
	BusinessLogicID string `json:"businessLogicID"`
	Message         string `json:"error"`
}

// Report 汇总一次 OnEvent 的处理结果。
type Report struct {
	EventID    string       `json:"eventID"`
	VerifierID string       `json:"verifierID"`
	Count      int          `json:"count"`
	Deliveries []Delivery   `json:"deliveries"`
	Unroutable []Unroutable `json:"unroutable"`
	Failures   []Failure    `json:"failures"`

	ProbeFailures []ProbeFailure `json:"probeFailures"`
}

// Delivered 返回成功投递的子事件数量。
func (r Report) Delivered() int {
	return len(r.Deliveries)
}

// Err 汇总无法路由与投递失败的条目；全部投递成功时返回 nil。
func (r Report) Err() error {
	var err error
	for _, u := range r.Unroutable {
		if u.Index < 0 {
			err = multierr.Append(err, fmt.Errorf("事件 %q 无插件认领: %w", r.EventID, ErrUnroutableEvent))
			continue
		}
		err = multierr.Append(err, fmt.Errorf("事件 %q 子事件 %d 在 %s 阶段无法路由: %w", r.EventID, u.Index, u.Stage, ErrUnroutableEvent))
	}
	for _, f := range r.Failures {
		err = multierr.Append(err, fmt.Errorf("事件 %q 子事件 %d 投递至 %q 失败: %w", r.EventID, f.Index, f.BusinessLogicID, f.Err))
	}
	return err
}
