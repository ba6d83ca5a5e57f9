package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"blp-router/internal/plugin"
)

// probeHandler 的探测行为由函数字段决定，所有调用写入共享的 calls 以校验顺序。
type probeHandler struct {
	plugin.Base
	id    string
	calls *[]string

	count   func(plugin.LedgerEvent) (int, error)
	resolve func(plugin.LedgerEvent, int) (string, error)
	owns    func(string) (bool, error)
	deliver func(plugin.LedgerEvent, int) error

	delivered []string
}

func (h *probeHandler) record(format string, args ...any) {
	*h.calls = append(*h.calls, h.id+":"+fmt.Sprintf(format, args...))
}

func (h *probeHandler) StartTransaction(context.Context, plugin.StartRequest, string, string) error {
	return nil
}

func (h *probeHandler) OperationStatus(context.Context, string) (plugin.StatusResult, error) {
	return plugin.StatusResult{BusinessLogicID: h.id}, nil
}

func (h *probeHandler) SetConfig(context.Context, []string) (plugin.ConfigResult, error) {
	return plugin.ConfigResult{BusinessLogicID: h.id}, nil
}

func (h *probeHandler) EventDataCount(_ context.Context, ev plugin.LedgerEvent) (int, error) {
	h.record("count")
	if h.count == nil {
		return 0, nil
	}
	return h.count(ev)
}

func (h *probeHandler) TradeIDFromEvent(_ context.Context, ev plugin.LedgerEvent, index int) (string, error) {
	h.record("resolve(%d)", index)
	if h.resolve == nil {
		return "", nil
	}
	return h.resolve(ev, index)
}

func (h *probeHandler) OwnsTrade(_ context.Context, tradeID string) (bool, error) {
	h.record("owns(%s)", tradeID)
	if h.owns == nil {
		return false, nil
	}
	return h.owns(tradeID)
}

func (h *probeHandler) OnEvent(_ context.Context, ev plugin.LedgerEvent, index int) error {
	h.record("deliver(%d)", index)
	if h.deliver != nil {
		if err := h.deliver(ev, index); err != nil {
			return err
		}
	}
	h.delivered = append(h.delivered, fmt.Sprintf("%s#%d", ev.ID, index))
	return nil
}

// domainHandler 模拟按业务标识匹配事件的插件：data 等于自身标识时认领一个子事件。
func domainHandler(id string, calls *[]string) *probeHandler {
	txName := id + "_TxID1"
	return &probeHandler{
		id:    id,
		calls: calls,
		count: func(ev plugin.LedgerEvent) (int, error) {
			if payloadString(ev) == id {
				return 1, nil
			}
			return 0, nil
		},
		resolve: func(ev plugin.LedgerEvent, _ int) (string, error) {
			if payloadString(ev) == id {
				return txName, nil
			}
			return "", nil
		},
		owns: func(tradeID string) (bool, error) { return tradeID == txName, nil },
	}
}

func payloadString(ev plugin.LedgerEvent) string {
	var s string
	_ = json.Unmarshal(ev.Data, &s)
	return s
}

func event(id, data string) plugin.LedgerEvent {
	raw, _ := json.Marshal(data)
	return plugin.LedgerEvent{ID: id, VerifierID: "someVerifier", Data: raw}
}

func newRouter(t *testing.T, handlers ...*probeHandler) *Router {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, h := range handlers {
		if err := reg.Register(h.id, h); err != nil {
			t.Fatalf("Register(%s) returned error: %v", h.id, err)
		}
	}
	return NewRouter(reg)
}

func TestOnEvent_RoutesToMatchingHandler(t *testing.T) {
	var calls []string
	a, b := domainHandler("A", &calls), domainHandler("B", &calls)
	router := newRouter(t, a, b)

	report := router.OnEvent(context.Background(), event("evA", "A"))
	if report.Err() != nil {
		t.Fatalf("unexpected report error: %v", report.Err())
	}
	if !reflect.DeepEqual(a.delivered, []string{"evA#0"}) {
		t.Fatalf("A delivered = %v", a.delivered)
	}
	if len(b.delivered) != 0 {
		t.Fatalf("B should receive nothing, got %v", b.delivered)
	}
	want := []Delivery{{Index: 0, TradeID: "A_TxID1", BusinessLogicID: "A"}}
	if !reflect.DeepEqual(report.Deliveries, want) {
		t.Fatalf("unexpected deliveries: %+v", report.Deliveries)
	}

	wantCalls := []string{"A:count", "A:resolve(0)", "A:owns(A_TxID1)", "A:deliver(0)"}
	if !reflect.DeepEqual(calls, wantCalls) {
		t.Fatalf("unexpected call order:\n got %v\nwant %v", calls, wantCalls)
	}

	calls = calls[:0]
	router.OnEvent(context.Background(), event("evB", "B"))
	wantCalls = []string{
		"A:count", "B:count",
		"A:resolve(0)", "B:resolve(0)",
		"A:owns(B_TxID1)", "B:owns(B_TxID1)",
		"B:deliver(0)",
	}
	if !reflect.DeepEqual(calls, wantCalls) {
		t.Fatalf("unexpected call order:\n got %v\nwant %v", calls, wantCalls)
	}
	if !reflect.DeepEqual(b.delivered, []string{"evB#0"}) {
		t.Fatalf("B delivered = %v", b.delivered)
	}
}

func TestOnEvent_SingleHandlerSkipsOwnershipProbe(t *testing.T) {
	var calls []string
	only := &probeHandler{
		id:      "solo",
		calls:   &calls,
		count:   func(plugin.LedgerEvent) (int, error) { return 2, nil },
		resolve: func(_ plugin.LedgerEvent, i int) (string, error) { return fmt.Sprintf("tx-%d", i), nil },
		owns: func(string) (bool, error) {
			t.Fatalf("ownership probe must not be called with a single handler")
			return false, nil
		},
	}
	router := newRouter(t, only)

	report := router.OnEvent(context.Background(), event("ev", "anything"))
	if report.Delivered() != 2 {
		t.Fatalf("expected 2 deliveries, got %+v", report)
	}
	for _, c := range calls {
		if c == "solo:owns(tx-0)" || c == "solo:owns(tx-1)" {
			t.Fatalf("ownership probe called: %v", calls)
		}
	}
}

func TestOnEvent_UnroutableWhenNoHandlerCounts(t *testing.T) {
	var calls []string
	a, b := domainHandler("A", &calls), domainHandler("B", &calls)
	router := newRouter(t, a, b)

	report := router.OnEvent(context.Background(), event("foreign", "C"))
	if report.Count != 0 || report.Delivered() != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Unroutable) != 1 || report.Unroutable[0].Index != -1 || report.Unroutable[0].Stage != StageCount {
		t.Fatalf("expected whole-event unroutable entry, got %+v", report.Unroutable)
	}
	if !errors.Is(report.Err(), ErrUnroutableEvent) {
		t.Fatalf("expected ErrUnroutableEvent, got %v", report.Err())
	}
	if !reflect.DeepEqual(calls, []string{"A:count", "B:count"}) {
		t.Fatalf("unexpected calls after unroutable count: %v", calls)
	}

	// 后续事件不受影响
	next := router.OnEvent(context.Background(), event("evA", "A"))
	if next.Delivered() != 1 || len(a.delivered) != 1 {
		t.Fatalf("subsequent event not delivered: %+v", next)
	}
}

func TestOnEvent_FirstMatchWinsByRegistrationOrder(t *testing.T) {
	var calls []string
	claim := func(id string) *probeHandler {
		return &probeHandler{
			id:      id,
			calls:   &calls,
			count:   func(plugin.LedgerEvent) (int, error) { return 1, nil },
			resolve: func(plugin.LedgerEvent, int) (string, error) { return "shared", nil },
			owns:    func(string) (bool, error) { return true, nil },
		}
	}
	first, second := claim("first"), claim("second")
	router := newRouter(t, first, second)

	for i := 0; i < 5; i++ {
		report := router.OnEvent(context.Background(), event(fmt.Sprintf("ev%d", i), "x"))
		if len(report.Deliveries) != 1 || report.Deliveries[0].BusinessLogicID != "first" {
			t.Fatalf("iteration %d: expected delivery to first, got %+v", i, report.Deliveries)
		}
	}
	if len(second.delivered) != 0 {
		t.Fatalf("second handler must never receive tied events: %v", second.delivered)
	}
	for _, c := range calls {
		if c == "second:count" || c == "second:resolve(0)" || c == "second:owns(shared)" {
			t.Fatalf("interrogation did not short-circuit: %v", calls)
		}
	}
}

func TestOnEvent_CountTakenFromFirstNonZero(t *testing.T) {
	var calls []string
	counter := &probeHandler{
		id:    "counter",
		calls: &calls,
		count: func(plugin.LedgerEvent) (int, error) { return 3, nil },
	}
	resolver := &probeHandler{
		id:      "resolver",
		calls:   &calls,
		count:   func(plugin.LedgerEvent) (int, error) { return 7, nil },
		resolve: func(_ plugin.LedgerEvent, i int) (string, error) { return fmt.Sprintf("t%d", i), nil },
		owns:    func(string) (bool, error) { return true, nil },
	}
	router := newRouter(t, counter, resolver)

	report := router.OnEvent(context.Background(), event("ev", "x"))
	if report.Count != 3 {
		t.Fatalf("expected count from first non-zero handler, got %d", report.Count)
	}
	if !reflect.DeepEqual(resolver.delivered, []string{"ev#0", "ev#1", "ev#2"}) {
		t.Fatalf("unexpected deliveries: %v", resolver.delivered)
	}
}

func TestOnEvent_PartialDelivery(t *testing.T) {
	var calls []string
	h1 := &probeHandler{
		id:    "h1",
		calls: &calls,
		count: func(plugin.LedgerEvent) (int, error) { return 3, nil },
		resolve: func(_ plugin.LedgerEvent, i int) (string, error) {
			switch i {
			case 0:
				return "known", nil
			case 1:
				return "", nil
			default:
				return "orphan", nil
			}
		},
		owns: func(id string) (bool, error) { return id == "known", nil },
	}
	h2 := &probeHandler{id: "h2", calls: &calls}
	router := newRouter(t, h1, h2)

	report := router.OnEvent(context.Background(), event("ev", "x"))
	if !reflect.DeepEqual(h1.delivered, []string{"ev#0"}) {
		t.Fatalf("unexpected deliveries: %v", h1.delivered)
	}
	wantUnroutable := []Unroutable{
		{Index: 1, Stage: StageResolve},
		{Index: 2, Stage: StageOwnership, TradeID: "orphan"},
	}
	if !reflect.DeepEqual(report.Unroutable, wantUnroutable) {
		t.Fatalf("unexpected unroutable entries: %+v", report.Unroutable)
	}
	if !errors.Is(report.Err(), ErrUnroutableEvent) {
		t.Fatalf("expected ErrUnroutableEvent in report error, got %v", report.Err())
	}
}

func TestOnEvent_ProbeFailuresDoNotPoisonRouting(t *testing.T) {
	var calls []string
	broken := &probeHandler{
		id:      "broken",
		calls:   &calls,
		count:   func(plugin.LedgerEvent) (int, error) { return 0, errors.New("count failed") },
		resolve: func(plugin.LedgerEvent, int) (string, error) { panic("resolve exploded") },
		owns:    func(string) (bool, error) { return false, errors.New("owns failed") },
	}
	healthy := domainHandler("A", &calls)
	router := newRouter(t, broken, healthy)

	report := router.OnEvent(context.Background(), event("evA", "A"))
	if !reflect.DeepEqual(healthy.delivered, []string{"evA#0"}) {
		t.Fatalf("healthy handler did not receive event: %+v", report)
	}
	if report.Err() != nil {
		t.Fatalf("probe failures must not surface as routing errors: %v", report.Err())
	}
	stages := make([]Stage, 0, len(report.ProbeFailures))
	for _, f := range report.ProbeFailures {
		if f.BusinessLogicID != "broken" {
			t.Errorf("unexpected probe failure source: %+v", f)
		}
		stages = append(stages, f.Stage)
	}
	if !reflect.DeepEqual(stages, []Stage{StageCount, StageResolve, StageOwnership}) {
		t.Fatalf("unexpected probe failure stages: %v", stages)
	}
}

func TestOnEvent_DeliveryFailureContinuesWithNextIndex(t *testing.T) {
	var calls []string
	h := &probeHandler{
		id:      "h",
		calls:   &calls,
		count:   func(plugin.LedgerEvent) (int, error) { return 2, nil },
		resolve: func(_ plugin.LedgerEvent, i int) (string, error) { return fmt.Sprintf("t%d", i), nil },
		deliver: func(_ plugin.LedgerEvent, i int) error {
			if i == 0 {
				return errors.New("disk full")
			}
			return nil
		},
	}
	router := newRouter(t, h)

	report := router.OnEvent(context.Background(), event("ev", "x"))
	if len(report.Failures) != 1 || report.Failures[0].Index != 0 || report.Failures[0].Message != "disk full" {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}
	if !reflect.DeepEqual(h.delivered, []string{"ev#1"}) {
		t.Fatalf("index 1 not delivered after failure: %v", h.delivered)
	}
	if report.Err() == nil || errors.Is(report.Err(), ErrUnroutableEvent) {
		t.Fatalf("expected delivery error without unroutable marker, got %v", report.Err())
	}
}

func TestOnEvent_Deterministic(t *testing.T) {
	run := func() ([]string, Report) {
		var calls []string
		a, b := domainHandler("A", &calls), domainHandler("B", &calls)
		report := newRouter(t, a, b).OnEvent(context.Background(), event("evB", "B"))
		return calls, report
	}

	firstCalls, firstReport := run()
	for i := 0; i < 10; i++ {
		calls, report := run()
		if !reflect.DeepEqual(calls, firstCalls) || !reflect.DeepEqual(report, firstReport) {
			t.Fatalf("routing not deterministic on run %d", i)
		}
	}
}

type observerFunc func(Report)

func (f observerFunc) EventRouted(_ context.Context, r Report) { f(r) }

func TestOnEvent_NotifiesObservers(t *testing.T) {
	var calls []string
	reg := plugin.NewRegistry()
	_ = reg.Register("A", domainHandler("A", &calls))

	var reports []Report
	router := NewRouter(reg, WithObserver(observerFunc(func(r Report) { reports = append(reports, r) })))

	router.OnEvent(context.Background(), event("e1", "A"))
	router.OnEvent(context.Background(), event("e2", "Z"))

	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Delivered() != 1 || reports[1].Count != 0 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}

func TestOnEvent_EmptyRegistry(t *testing.T) {
	report := NewRouter(plugin.NewRegistry()).OnEvent(context.Background(), event("e", "x"))
	if !errors.Is(report.Err(), ErrUnroutableEvent) {
		t.Fatalf("expected unroutable with empty registry, got %+v", report)
	}
}
