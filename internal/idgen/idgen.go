// Package idgen issues record identifiers that are unique for the lifetime of
// the store and sort in creation order.
package idgen

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces identifiers. NewID never fails.
type Generator interface {
	NewID() string
}

// UUIDv7 issues time-ordered UUIDv7 strings. The uuid package keeps a
// monotonic sequence inside the same millisecond, so ids issued by one
// process compare in issue order.
type UUIDv7 struct {
	newV7    func() (uuid.UUID, error)
	fallback *Counter
}

// New returns the default generator.
func New() *UUIDv7 {
	return &UUIDv7{newV7: uuid.NewV7, fallback: NewCounter(time.Now())}
}

// NewID implements Generator.
func (g *UUIDv7) NewID() string {
	id, err := g.newV7()
	if err != nil {
		return g.fallback.NewID()
	}
	return id.String()
}

// Counter issues ids from a process epoch plus an atomic sequence. It does not
// read the clock per call, so it keeps working when time is unreliable.
type Counter struct {
	epoch uint64
	seq   atomic.Uint64
}

// NewCounter seeds a counter generator with the given epoch.
func NewCounter(epoch time.Time) *Counter {
	return &Counter{epoch: uint64(epoch.UnixNano())}
}

// NewID implements Generator.
func (c *Counter) NewID() string {
	return fmt.Sprintf("c%016x-%012x", c.epoch, c.seq.Add(1))
}
