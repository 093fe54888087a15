package worker

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers that are unique within the process
type IDGenerator interface {
	Next() string
}

// CounterIDGenerator combines a static prefix, a monotonically increasing
// counter and a short random suffix.
type CounterIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

// NewCounterIDGenerator creates a generator whose ids look like "<prefix>-<n>-<random>"
func NewCounterIDGenerator(prefix string) *CounterIDGenerator {
	return &CounterIDGenerator{prefix: prefix}
}

// Next returns the next identifier
func (g *CounterIDGenerator) Next() string {
	n := g.counter.Add(1) - 1
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", g.prefix, n, suffix)
}

// DefaultWorkerIDs is the process-wide worker id source used when no
// generator is injected with WithWorkerIDs.
var DefaultWorkerIDs IDGenerator = NewCounterIDGenerator("Worker")
