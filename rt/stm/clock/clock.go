// Copyright 2016 PingCAP, Inc.
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

package clock

import (
	"sync"

	"go.uber.org/atomic"
)

// Oracle hands out the points used to order transactions. Points are
// process-local logical timestamps: Next never returns the same value twice
// and every value it returns is greater than any value returned before it.
type Oracle interface {
	// Current returns the most recently issued point without advancing.
	Current() uint64
	// Next advances the clock and returns the new point.
	Next() uint64
}

// Logical is the oracle used by a running engine. It is a single counter
// shared by every transaction; the zero point is reserved for initial values.
type Logical struct {
	point atomic.Uint64
}

// NewLogical creates a Logical clock starting at zero.
func NewLogical() *Logical {
	return &Logical{}
}

// NewLogicalAt creates a Logical clock whose Current is start.
func NewLogicalAt(start uint64) *Logical {
	l := &Logical{}
	l.point.Store(start)
	return l
}

func (l *Logical) Current() uint64 {
	return l.point.Load()
}

func (l *Logical) Next() uint64 {
	p := l.point.Inc()
	clockCounter.WithLabelValues("next").Inc()
	clockGauge.WithLabelValues("point").Set(float64(p))
	return p
}

// Manual is an Oracle for tests. It only moves when Next, Set or Advance is
// called, which lets a test place transactions at exact points.
type Manual struct {
	mu    sync.Mutex
	point uint64
	// OnNext, if set, is called with every point handed out by Next.
	OnNext func(point uint64)
}

// NewManual creates a Manual clock whose Current is start.
func NewManual(start uint64) *Manual {
	return &Manual{point: start}
}

func (m *Manual) Current() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.point
}

func (m *Manual) Next() uint64 {
	m.mu.Lock()
	m.point++
	p := m.point
	hook := m.OnNext
	m.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return p
}

// Advance moves the clock forward by n points and returns the new Current.
func (m *Manual) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.point += n
	return m.point
}

// Set moves the clock to p. Moving it backwards panics, the clock never
// goes back once points were handed out.
func (m *Manual) Set(p uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p < m.point {
		panic("clock: Manual.Set would move the clock backwards")
	}
	m.point = p
}
