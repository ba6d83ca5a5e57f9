package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"blp-router/internal/dispatch"
	"blp-router/internal/plugin"
	"blp-router/internal/routing"
	"blp-router/internal/trade"
)

func TestCollector_CommandCompleted(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationStart, BusinessLogicID: "A"})
	c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationStart, BusinessLogicID: "A"})
	c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationStart, BusinessLogicID: "Z", Err: plugin.ErrNotFound})
	c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationStatus, Err: trade.ErrUnknownTrade})
	c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationConfig, BusinessLogicID: "A", Err: errors.New("x")})

	cases := []struct {
		labels []string
		want   float64
	}{
		{[]string{"start", "A", "ok"}, 2},
		{[]string{"start", "unknown", "not_found"}, 1},
		{[]string{"status", "", "unknown_trade"}, 1},
		{[]string{"config", "A", "error"}, 1},
	}
	for _, tc := range cases {
		if got := testutil.ToFloat64(c.commands.WithLabelValues(tc.labels...)); got != tc.want {
			t.Errorf("commands%v = %v, want %v", tc.labels, got, tc.want)
		}
	}
}

func TestCollector_UnregisteredIDsShareOneSeries(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("junk-%d", i)
		c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationStart, BusinessLogicID: id, Err: plugin.ErrNotFound})
		c.CommandCompleted(ctx, dispatch.CommandRecord{Operation: dispatch.OperationConfig, BusinessLogicID: id, Err: plugin.ErrNotFound})
	}

	if got := testutil.CollectAndCount(c.commands); got != 2 {
		t.Fatalf("commands series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(c.commands.WithLabelValues("start", "unknown", "not_found")); got != 50 {
		t.Fatalf("unknown start commands = %v, want 50", got)
	}
}

func TestCollector_EventRouted(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.EventRouted(ctx, routing.Report{
		Count:      2,
		Deliveries: []routing.Delivery{{Index: 0, BusinessLogicID: "A"}},
		Unroutable: []routing.Unroutable{{Index: 1, Stage: routing.StageOwnership}},
		ProbeFailures: []routing.ProbeFailure{
			{Index: -1, Stage: routing.StageCount, BusinessLogicID: "B"},
		},
	})
	c.EventRouted(ctx, routing.Report{
		Count:      0,
		Unroutable: []routing.Unroutable{{Index: -1, Stage: routing.StageCount}},
	})
	c.EventRouted(ctx, routing.Report{
		Count:    1,
		Failures: []routing.Failure{{Index: 0, BusinessLogicID: "A"}},
	})

	if got := testutil.ToFloat64(c.events.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial events = %v", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("unroutable")); got != 1 {
		t.Errorf("unroutable events = %v", got)
	}
	if got := testutil.ToFloat64(c.events.WithLabelValues("undelivered")); got != 1 {
		t.Errorf("undelivered events = %v", got)
	}
	if got := testutil.ToFloat64(c.deliveries.WithLabelValues("A", "ok")); got != 1 {
		t.Errorf("ok deliveries = %v", got)
	}
	if got := testutil.ToFloat64(c.deliveries.WithLabelValues("A", "error")); got != 1 {
		t.Errorf("failed deliveries = %v", got)
	}
	if got := testutil.ToFloat64(c.unroutable.WithLabelValues("count")); got != 1 {
		t.Errorf("unroutable count stage = %v", got)
	}
	if got := testutil.ToFloat64(c.probeFailures.WithLabelValues("B", "count")); got != 1 {
		t.Errorf("probe failures = %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.EventRouted(context.Background(), routing.Report{Count: 1, Deliveries: []routing.Delivery{{BusinessLogicID: "A"}}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `blp_router_ledger_events_total{outcome="delivered"} 1`) {
		t.Fatalf("metrics output missing event counter:\n%s", body)
	}
}
