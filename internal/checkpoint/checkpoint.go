// Package checkpoint implements the cooperative halt point long-running
// loops call after each unit of work.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrHalted is returned by Check once the context is done
var ErrHalted = errors.New("halted")

// Checkpoint counts units of work and hints the runtime to reclaim memory
// every gcEvery calls. It is not safe for concurrent use; each worker owns one.
type Checkpoint struct {
	gcEvery int
	calls   int
	gc      func()
}

// New returns a checkpoint that collects garbage every gcEvery calls;
// zero or less disables the hint
func New(gcEvery int) *Checkpoint {
	return &Checkpoint{gcEvery: gcEvery, gc: runtime.GC}
}

// Check returns ErrHalted, wrapping the context error, when ctx is done.
// Writes committed before the call are kept.
func (c *Checkpoint) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrHalted, err)
	}
	c.calls++
	if c.gcEvery > 0 && c.calls%c.gcEvery == 0 {
		c.gc()
	}
	return nil
}

// Calls returns the number of successful checks
func (c *Checkpoint) Calls() int {
	return c.calls
}

// IsHalted reports whether err came from a halted checkpoint
func IsHalted(err error) bool {
	return errors.Is(err, ErrHalted)
}
