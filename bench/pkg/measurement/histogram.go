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
	"fmt"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

type histogram struct {
	startTime time.Time
	hist      *hdrhistogram.Histogram
}

const (
	ELAPSED   = "ELAPSED"
	COUNT     = "COUNT"
	OPS       = "OPS"
	AVG       = "AVG"
	MIN       = "MIN"
	MAX       = "MAX"
	PER99TH   = "PER99TH"
	PER999TH  = "PER999TH"
	PER9999TH = "PER9999TH"
)

func newHistogram() *histogram {
	h := new(histogram)
	h.startTime = time.Now()
	h.hist = hdrhistogram.New(1, 24*60*60*1000*1000, 3)
	return h
}

func (h *histogram) Measure(latency time.Duration) {
	us := latency.Microseconds()
	if us < 1 {
		us = 1
	}
	_ = h.hist.RecordValue(us)
}

func (h *histogram) Summary() []string {
	res := h.getInfo()

	return []string{
		fmt.Sprintf("%.1f", res[ELAPSED]),
		fmt.Sprintf("%d", res[COUNT]),
		fmt.Sprintf("%.1f", res[OPS]),
		fmt.Sprintf("%d", res[AVG]),
		fmt.Sprintf("%d", res[MIN]),
		fmt.Sprintf("%d", res[MAX]),
		fmt.Sprintf("%d", res[PER99TH]),
		fmt.Sprintf("%d", res[PER999TH]),
		fmt.Sprintf("%d", res[PER9999TH]),
	}
}

func (h *histogram) getInfo() map[string]interface{} {
	count := h.hist.TotalCount()
	elapsed := time.Since(h.startTime).Seconds()

	res := make(map[string]interface{})
	res[ELAPSED] = elapsed
	res[COUNT] = count
	res[OPS] = float64(count) / elapsed
	res[AVG] = int64(h.hist.Mean())
	res[MIN] = h.hist.Min()
	res[MAX] = h.hist.Max()
	res[PER99TH] = h.hist.ValueAtPercentile(99)
	res[PER999TH] = h.hist.ValueAtPercentile(99.9)
	res[PER9999TH] = h.hist.ValueAtPercentile(99.99)
	return res
}
