package clock

import (
	"testing"
	"time"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

func TestIsOpen(t *testing.T) {
	t.Parallel()

	day1 := xchg.TradingWindow{
		Start: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	day2 := xchg.TradingWindow{
		Start: time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC),
	}
	windows := []xchg.TradingWindow{day1, day2}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"inside first window", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), true},
		{"inside second window", time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC), true},
		{"between windows", time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC), false},
		{"before all windows", time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), false},
		{"after all windows", time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		if got := IsOpen(tt.now, windows); got != tt.want {
			t.Errorf("%s: IsOpen() = %v, want %v", tt.name, got, tt.want)
		}
	}

	if IsOpen(time.Now(), nil) {
		t.Error("empty window list should never be open")
	}
}
