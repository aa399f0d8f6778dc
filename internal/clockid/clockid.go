// Package clockid provides swappable sources of wall-clock time (Clock) and
// identifiers (IDGenerator). The orchestrator mints its turn and sub-agent
// ids through an IDGenerator; other packages (memory, tools) still read
// time.Now() directly rather than taking a Clock.
package clockid

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. The zero value is not usable; use
// SystemClock or a fake in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that always returns the same instant unless
// Advance is called.
type FixedClock struct {
	t time.Time
}

// NewFixedClock returns a FixedClock starting at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time { return c.t }

// Advance moves the fixed clock forward by d and returns the new time.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.t = c.t.Add(d)
	return c.t
}

// IDGenerator mints unique identifiers for messages, tool calls, approval
// requests, and events.
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDGenerator is the production IDGenerator, using google/uuid v4.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}

// SequentialGenerator is a deterministic test IDGenerator producing
// prefix_1, prefix_2, ... in call order. Safe for concurrent use.
type SequentialGenerator struct {
	counter atomic.Int64
}

func (g *SequentialGenerator) NewID(prefix string) string {
	n := g.counter.Add(1)
	if prefix == "" {
		prefix = "id"
	}
	return prefix + "_" + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CostEstimate tracks cumulative token counts and the number of completion
// calls for a conversation. It records tokens only; no dollar cost is
// computed. Grounded on the teacher's agent.CostGuard, generalised to a
// plain accumulator.
type CostEstimate struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Calls            int64
}

// Add folds one completion's usage into the running estimate.
func (c *CostEstimate) Add(promptTokens, completionTokens int) {
	c.PromptTokens += int64(promptTokens)
	c.CompletionTokens += int64(completionTokens)
	c.TotalTokens += int64(promptTokens + completionTokens)
	c.Calls++
}
