package iotutil

import (
	"fmt"
	"sync/atomic"
)

// NewRIDGenerator creates new rid generator.
func NewRIDGenerator() *RIDGenerator {
	return new(RIDGenerator)
}

// RIDGenerator generates unique request ids.
type RIDGenerator uint32

// NextUint32 returns the next value in the sequence as a raw uint32, for
// callers that need the number itself rather than its string form.
func (r *RIDGenerator) NextUint32() uint32 {
	return atomic.AddUint32((*uint32)(r), 1)
}

// Next returns a unique request id by incrementing numbers starting from 1.
func (r *RIDGenerator) Next() string {
	return fmt.Sprintf("%d", r.NextUint32())
}
