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

package measurement

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var header = []string{"Operation", "Takes(s)", "Count", "OPS", "Avg(us)", "Min(us)", "Max(us)", "99th(us)", "99.9th(us)", "99.99th(us)"}

// Measurer keeps one latency histogram per operation name. It is safe for
// concurrent use.
type Measurer struct {
	sync.RWMutex

	style      string
	histograms map[string]*histogram
}

// NewMeasurer creates a Measurer printing in the given output style.
func NewMeasurer(style string) (*Measurer, error) {
	switch style {
	case "":
		style = OutputStylePlain
	case OutputStylePlain, OutputStyleTable, OutputStyleJson:
	default:
		return nil, errors.Errorf("unsupported output style %q", style)
	}
	return &Measurer{
		style:      style,
		histograms: make(map[string]*histogram, 16),
	}, nil
}

// Measure records the latency of one operation.
func (m *Measurer) Measure(op string, latency time.Duration) {
	m.Lock()
	opM, ok := m.histograms[op]
	if !ok {
		opM = newHistogram()
		m.histograms[op] = opM
	}
	opM.Measure(latency)
	m.Unlock()
}

// Count returns the number of operations recorded under op.
func (m *Measurer) Count(op string) int64 {
	m.RLock()
	defer m.RUnlock()
	if opM, ok := m.histograms[op]; ok {
		return opM.hist.TotalCount()
	}
	return 0
}

// Output writes one summary line per operation, sorted by name.
func (m *Measurer) Output(w io.Writer) error {
	m.RLock()
	keys := make([]string, 0, len(m.histograms))
	for k := range m.histograms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([][]string, 0, len(keys))
	for _, op := range keys {
		line := []string{op}
		line = append(line, m.histograms[op].Summary()...)
		lines = append(lines, line)
	}
	m.RUnlock()

	return Render(w, m.style, header, lines)
}
