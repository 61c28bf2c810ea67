package operations

import "sync/atomic"

// Epoch is the shared request counter. A consumer starting a new batch calls
// Next and discards any later result whose epoch is not Current.
type Epoch struct {
	n atomic.Int64
}

// Next starts a new batch and returns its epoch
func (e *Epoch) Next() int64 {
	return e.n.Add(1)
}

// Current returns the epoch of the latest batch
func (e *Epoch) Current() int64 {
	return e.n.Load()
}

// IsCurrent reports whether epoch belongs to the latest batch
func (e *Epoch) IsCurrent(epoch int64) bool {
	return epoch == e.n.Load()
}
