package transcript

import "context"

// Slot is a single-slot handoff between one producer and one consumer.
// The zero value is not usable; create one with [NewSlot].
type Slot struct {
	ch chan Result
}

// NewSlot returns an empty Slot.
func NewSlot() *Slot {
	return &Slot{ch: make(chan Result, 1)}
}

// Put publishes r. If the previous result has not been taken yet, Put blocks
// until it is or ctx is done; it never overwrites.
func (s *Slot) Put(ctx context.Context, r Result) error {
	select {
	case s.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take blocks until a result is available, removes it from the slot and
// returns it.
func (s *Slot) Take(ctx context.Context) (Result, error) {
	select {
	case r := <-s.ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Ready reports whether a published result is waiting to be taken.
func (s *Slot) Ready() bool { return len(s.ch) > 0 }
