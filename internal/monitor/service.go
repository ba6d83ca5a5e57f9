package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"blp-router/internal/dispatch"
	"blp-router/internal/routing"
	"blp-router/internal/store"
)

// Service 将命令与路由结果写入审计表，仅用于排查，不参与交易状态恢复。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化审计服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS router_journal (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_router_journal_type ON router_journal(event_type);
CREATE INDEX IF NOT EXISTS idx_router_journal_subject ON router_journal(subject);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单条记录。subject 为交易标识或事件标识，便于检索。
func (s *Service) Record(ctx context.Context, subject string, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化记录失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO router_journal (event_type, subject, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), subject, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入记录失败: %w", err)
	}

	return nil
}

// CommandCompleted 实现 dispatch.CommandObserver。
func (s *Service) CommandCompleted(ctx context.Context, record dispatch.CommandRecord) {
	payload := CommandPayload{
		Operation:       string(record.Operation),
		BusinessLogicID: record.BusinessLogicID,
		TradeID:         record.TradeID,
	}
	if record.Err != nil {
		payload.Error = record.Err.Error()
	}
	if err := s.Record(ctx, record.TradeID, Event{Type: EventCommand, Payload: payload}); err != nil {
		s.logger.Warn("记录命令失败", zap.Error(err))
	}
}

// EventRouted 实现 routing.Observer。整个事件无人认领时记为 event_unroutable。
func (s *Service) EventRouted(ctx context.Context, report routing.Report) {
	typ := EventRouted
	if report.Count == 0 {
		typ = EventUnroutable
	}
	if err := s.Record(ctx, report.EventID, Event{Type: typ, Payload: RoutingPayload{Report: report}}); err != nil {
		s.logger.Warn("记录路由结果失败", zap.String("event_id", report.EventID), zap.Error(err))
	}
}

// Query 描述检索条件，字段为空表示不过滤。
type Query struct {
	Type    EventType
	Subject string
	Limit   int
}

// ListEvents 按条件检索最近记录，按写入顺序倒序。
func (s *Service) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM router_journal WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if q.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(q.Type))
	}
	if q.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, q.Subject)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询记录失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析记录失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取记录失败: %w", err)
	}

	return events, nil
}
