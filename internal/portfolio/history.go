package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHistoryPoints bounds a ValueHistory to roughly two trading years.
const DefaultHistoryPoints = 504

// ValuePoint is one mark-to-market snapshot.
type ValuePoint struct {
	At    time.Time       `json:"at"`
	Value decimal.Decimal `json:"value"`
}

// ValueHistory tracks a portfolio's value over time along with its peak.
type ValueHistory struct {
	mu        sync.RWMutex
	points    []ValuePoint
	peak      decimal.Decimal
	maxPoints int
}

// NewValueHistory seeds the history with the starting value. maxPoints <= 0
// selects DefaultHistoryPoints.
func NewValueHistory(at time.Time, initial decimal.Decimal, maxPoints int) *ValueHistory {
	if maxPoints <= 0 {
		maxPoints = DefaultHistoryPoints
	}
	return &ValueHistory{
		points:    []ValuePoint{{At: at, Value: initial}},
		peak:      initial,
		maxPoints: maxPoints,
	}
}

// Record appends a snapshot, dropping the oldest once full. The peak is
// never forgotten.
func (h *ValueHistory) Record(at time.Time, value decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.points = append(h.points, ValuePoint{At: at, Value: value})
	if len(h.points) > h.maxPoints {
		h.points = h.points[len(h.points)-h.maxPoints:]
	}
	if value.GreaterThan(h.peak) {
		h.peak = value
	}
}

// Points returns a copy of all snapshots, oldest first.
func (h *ValueHistory) Points() []ValuePoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]ValuePoint, len(h.points))
	copy(cp, h.points)
	return cp
}

// Values returns the snapshot values as float64 for the analytics functions.
func (h *ValueHistory) Values() []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]float64, len(h.points))
	for i, p := range h.points {
		out[i] = p.Value.InexactFloat64()
	}
	return out
}

// Peak returns the highest value ever recorded.
func (h *ValueHistory) Peak() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peak
}

// Drawdown returns the current decline from the peak as a fraction (0-1).
func (h *ValueHistory) Drawdown() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.peak.IsPositive() || len(h.points) == 0 {
		return 0
	}
	last := h.points[len(h.points)-1].Value
	if !last.LessThan(h.peak) {
		return 0
	}
	return h.peak.Sub(last).Div(h.peak).InexactFloat64()
}
