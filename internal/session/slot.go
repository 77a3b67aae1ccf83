// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import "context"

// Slot is the process-wide recording permission: a non-blocking mutex with
// exactly two observable states, free and held. Acquire never waits; a
// request that cannot acquire immediately fails.
type Slot struct {
	ch chan struct{}
}

// NewSlot returns a free slot.
func NewSlot() *Slot {
	return &Slot{ch: make(chan struct{}, 1)}
}

// TryAcquire takes the slot if it is free.
func (s *Slot) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the slot. Releasing a free slot is a no-op, which keeps the
// stop path idempotent.
func (s *Slot) Release() {
	select {
	case <-s.ch:
	default:
	}
}

// Held reports the current state without acquiring.
func (s *Slot) Held() bool {
	return len(s.ch) == 1
}

// Wait blocks until the slot can be acquired or the context ends. Used by
// the graceful drain to wait for an in-flight session.
func (s *Slot) Wait(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
