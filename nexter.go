package feindexer

import (
	"sync/atomic"
)

// Nexter is a threadsafe monotonic sequence, used to number the parts a
// store writes.
type Nexter struct {
	id *int64
}

// NexterOption configures a Nexter.
type NexterOption func(n *Nexter)

// NexterStartFrom starts the sequence at s.
func NexterStartFrom(s int64) NexterOption {
	return func(n *Nexter) {
		*n.id = s
	}
}

// NewNexter creates a new sequence starting at 0.
func NewNexter(opts ...NexterOption) *Nexter {
	var id int64
	n := &Nexter{id: &id}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Next returns the next number of the sequence.
func (n *Nexter) Next() int64 {
	return atomic.AddInt64(n.id, 1) - 1
}

// Last returns the most recently generated number.
func (n *Nexter) Last() int64 {
	return atomic.LoadInt64(n.id) - 1
}

// Reset starts the sequence over from s.
func (n *Nexter) Reset(s int64) {
	atomic.StoreInt64(n.id, s)
}
