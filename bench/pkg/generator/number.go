// Copyright 2018 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package generator

import (
	"math/rand"

	"go.uber.org/atomic"
)

// Generator picks the index of the next ref an operation works on.
type Generator interface {
	// Next generates the next value. r is owned by the calling goroutine.
	Next(r *rand.Rand) int64
	// Last returns the previously generated value.
	Last() int64
}

// Number keeps the last generated value for the generators embedding it.
type Number struct {
	lastValue atomic.Int64
}

// SetLastValue sets the last value generated.
func (n *Number) SetLastValue(value int64) {
	n.lastValue.Store(value)
}

// Last implements the Generator Last interface.
func (n *Number) Last() int64 {
	return n.lastValue.Load()
}
