package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"blp-router/internal/config"
	"blp-router/internal/plugin"
	"blp-router/internal/routing"
)

// Router 为事件源投递目标。
type Router interface {
	OnEvent(ctx context.Context, event plugin.LedgerEvent) routing.Report
}

// Feed 订阅单个验证器的 websocket 事件流，并将每个账本事件交给路由器。
// 连接断开后按指数退避重连，直到 ctx 结束。
type Feed struct {
	verifier config.VerifierConfig
	retry    config.RetryConfig
	router   Router
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewFeed 创建事件源。
func NewFeed(verifier config.VerifierConfig, retry config.RetryConfig, router Router, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		verifier: verifier,
		retry:    retry,
		router:   router,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With(zap.String("verifier_id", verifier.ID)),
	}
}

// Run 阻塞运行直到 ctx 结束。ctx 结束时返回 nil。
func (f *Feed) Run(ctx context.Context) error {
	retry := backoff.WithContext(f.newBackOff(), ctx)
	attempt := 0
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			f.logger.Info("验证器事件订阅已停止")
			return nil
		}
		if connected {
			retry.Reset()
			attempt = 0
		}

		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			f.logger.Info("验证器事件订阅已停止")
			return nil
		}
		attempt++
		f.logger.Warn("验证器连接中断，准备重连",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.logger.Info("验证器事件订阅已停止")
			return nil
		case <-timer.C:
		}
	}
}

// session 建立一次连接并持续读取，返回是否曾连接成功。
func (f *Feed) session(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.verifier.URL, nil)
	if err != nil {
		return false, fmt.Errorf("ledger: 连接验证器 %q 失败: %w", f.verifier.URL, err)
	}
	f.logger.Info("已连接验证器", zap.String("url", f.verifier.URL))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("ledger: 读取验证器消息失败: %w", err)
		}

		events, err := Decode(msg, f.verifier.ID)
		if err != nil {
			f.logger.Warn("无法解析验证器消息", zap.Error(err), zap.Int("size", len(msg)))
			continue
		}
		for _, ev := range events {
			report := f.router.OnEvent(ctx, ev)
			if routeErr := report.Err(); routeErr != nil {
				f.logger.Debug("账本事件未完全投递", zap.String("event_id", ev.ID), zap.Error(routeErr))
			}
		}
	}
}

// newBackOff 按 min_delay 起步、每次翻倍、不超过 max_delay，且永不放弃。
func (f *Feed) newBackOff() *backoff.ExponentialBackOff {
	minDelay, maxDelay := f.retry.MinDelay, f.retry.MaxDelay
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Decode 解析单个事件对象或事件数组，verifierId 缺省时以 verifierID 补齐。
func Decode(msg []byte, verifierID string) ([]plugin.LedgerEvent, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, errors.New("ledger: 空消息")
	}

	var events []plugin.LedgerEvent
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &events); err != nil {
			return nil, fmt.Errorf("ledger: 解析事件数组失败: %w", err)
		}
	} else {
		var ev plugin.LedgerEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return nil, fmt.Errorf("ledger: 解析事件失败: %w", err)
		}
		events = []plugin.LedgerEvent{ev}
	}

	for i := range events {
		if events[i].ID == "" {
			return nil, fmt.Errorf("ledger: 第 %d 个事件缺少 id", i)
		}
		if events[i].VerifierID == "" {
			events[i].VerifierID = verifierID
		}
	}
	return events, nil
}
