package outbound

import (
	"math"
	"sync"
	"time"
)

// BudgetUsage captures the throttling state of the send path.
type BudgetUsage struct {
	AvailableBytes       float64
	BytesPerSecond       float64
	ObservedSeconds      float64
	ThrottledFlushes     int64
	LastUpdatedTimestamp time.Time
}

// Budget is a token bucket bounding bytes flushed per second. A nil Budget
// or a non-positive rate never throttles.
type Budget struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	refill    float64
	last      time.Time
	window    time.Time
	sent      int64
	throttled int64
	now       func() time.Time
}

// NewBudget constructs a budget for bytesPerSecond. One second of traffic may burst.
func NewBudget(bytesPerSecond float64, clock func() time.Time) *Budget {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return &Budget{
		tokens:   math.Max(bytesPerSecond, 0),
		capacity: math.Max(bytesPerSecond, 0),
		refill:   math.Max(bytesPerSecond, 0),
		last:     now,
		window:   now,
		now:      clock,
	}
}

func (b *Budget) unlimited() bool { return b == nil || b.refill <= 0 }

func (b *Budget) replenish(now time.Time) {
	//1.- Skip negative intervals to protect against clock skew.
	if now.Before(b.last) {
		return
	}
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	if elapsed <= 0 {
		return
	}
	//2.- Accumulate fresh tokens using the configured refill rate.
	b.tokens = math.Min(b.tokens+elapsed*b.refill, b.capacity)
}

// Grant returns how many of want bytes may be written now.
func (b *Budget) Grant(want int) int {
	if want <= 0 {
		return 0
	}
	if b.unlimited() {
		return want
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(b.now())
	allowed := int(math.Floor(b.tokens))
	if allowed < want {
		b.throttled++
	}
	return min(allowed, want)
}

// Charge deducts bytes actually written.
func (b *Budget) Charge(n int) {
	if b == nil || n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent += int64(n)
	if b.refill > 0 {
		b.tokens = math.Max(b.tokens-float64(n), 0)
	}
}

// Usage reports the current bucket level and observed throughput.
func (b *Budget) Usage() BudgetUsage {
	if b == nil {
		return BudgetUsage{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.replenish(now)
	observed := math.Max(now.Sub(b.window).Seconds(), 0)
	rate := 0.0
	if observed > 0 {
		rate = float64(b.sent) / observed
	}
	available := math.Inf(1)
	if b.refill > 0 {
		available = b.tokens
	}
	return BudgetUsage{
		AvailableBytes:       available,
		BytesPerSecond:       rate,
		ObservedSeconds:      observed,
		ThrottledFlushes:     b.throttled,
		LastUpdatedTimestamp: b.last,
	}
}
