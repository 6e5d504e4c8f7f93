package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matchesLabels(m.GetLabel(), labels) {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				if g := m.GetGauge(); g != nil {
					return g.GetValue()
				}
			}
		}
	}
	return 0
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestOrderPlacedIncrementsLabeledCounter(t *testing.T) {
	c := New()

	before := counterValue(t, "xchg_orders_placed_total", map[string]string{"side": "buy", "type": "limit"})
	c.OrderPlaced(xchg.Buy, xchg.Limit)
	after := counterValue(t, "xchg_orders_placed_total", map[string]string{"side": "buy", "type": "limit"})

	if after != before+1 {
		t.Fatalf("counter went from %v to %v, want +1", before, after)
	}
}

func TestTradeMatchedIncrementsCountAndShares(t *testing.T) {
	c := New()

	beforeCount := counterValue(t, "xchg_trades_matched_total", map[string]string{"source": "book"})
	beforeShares := counterValue(t, "xchg_trade_shares_total", map[string]string{"source": "book"})

	c.TradeMatched(xchg.SourceBook, 7)

	if got := counterValue(t, "xchg_trades_matched_total", map[string]string{"source": "book"}); got != beforeCount+1 {
		t.Errorf("trade count = %v, want %v", got, beforeCount+1)
	}
	if got := counterValue(t, "xchg_trade_shares_total", map[string]string{"source": "book"}); got != beforeShares+7 {
		t.Errorf("trade shares = %v, want %v", got, beforeShares+7)
	}
}

func TestGaugesSetAbsoluteValue(t *testing.T) {
	c := New()

	c.PendingLimitDepth(3)
	if got := counterValue(t, "xchg_pending_limit_depth", nil); got != 3 {
		t.Errorf("pending limit depth = %v, want 3", got)
	}

	c.IPORemaining(250)
	if got := counterValue(t, "xchg_ipo_shares_remaining", nil); got != 250 {
		t.Errorf("ipo remaining = %v, want 250", got)
	}
}
