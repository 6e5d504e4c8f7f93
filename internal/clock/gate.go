// Package clock implements the market-hours gate: the engine consults it
// before any order-mutating operation to decide whether trading is
// currently permitted.
package clock

import (
	"time"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// IsOpen reports whether now falls inside any of the given trading
// windows. An empty window list means the market is always closed —
// operators must configure at least one window before trading can start.
func IsOpen(now time.Time, windows []xchg.TradingWindow) bool {
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}
