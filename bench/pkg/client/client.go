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

package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/magiconair/properties"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/tinyclj/tinyclj/bench/pkg/measurement"
	"github.com/tinyclj/tinyclj/bench/pkg/prop"
	"github.com/tinyclj/tinyclj/bench/pkg/workload"
	"github.com/tinyclj/tinyclj/log"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

type worker struct {
	c        *Client
	threadID int
	opCount  int64
	opsDone  int64
	attempts []float64
}

func (w *worker) run(ctx context.Context) {
	silence := w.c.p.GetBool(prop.Silence, prop.SilenceDefault)
	for w.opCount == 0 || w.opsDone < w.opCount {
		if w.c.limiter != nil {
			if err := w.c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		start := time.Now()
		out, err := w.c.workload.DoTransaction(ctx)
		lan := time.Since(start)
		if err != nil {
			w.c.errors.Inc()
			w.c.measurer.Measure(fmt.Sprintf("%s_ERROR", out.Op), lan)
			if !silence {
				log.Warnf("operation %s failed: %v", out.Op, err)
			}
		} else {
			w.c.measurer.Measure(out.Op, lan)
		}
		w.attempts = append(w.attempts, float64(out.Attempts))
		w.opsDone++

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Client runs a workload from a number of concurrent workers and measures
// every operation.
type Client struct {
	p        *properties.Properties
	workload workload.Workload
	measurer *measurement.Measurer
	limiter  *rate.Limiter

	errors atomic.Int64

	mu       sync.Mutex
	attempts stats.Float64Data
}

// NewClient returns a client with the given workload and measurer.
func NewClient(p *properties.Properties, w workload.Workload, m *measurement.Measurer) *Client {
	c := &Client{p: p, workload: w, measurer: m}
	if target := p.GetInt64(prop.Target, 0); target > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(target), 1)
	}
	return c
}

// Run runs the workload and blocks until all workers end. A summary of the
// measurements is written to out every measurement.interval seconds.
func (c *Client) Run(ctx context.Context, out io.Writer) error {
	threadCount := int(c.p.GetInt64(prop.ThreadCount, prop.ThreadCountDefault))
	opCount := c.p.GetInt64(prop.OperationCount, prop.OperationCountDefault)
	if threadCount <= 0 {
		return errors.Errorf("%s must be positive, got %d", prop.ThreadCount, threadCount)
	}
	if opCount < int64(threadCount) {
		return errors.Errorf("%s %d should be bigger than %s %d", prop.OperationCount, opCount, prop.ThreadCount, threadCount)
	}

	measureCtx, measureCancel := context.WithCancel(ctx)
	measureCh := make(chan struct{})
	go func() {
		defer close(measureCh)
		dur := c.p.GetInt64(prop.LogInterval, prop.LogIntervalDefault)
		if dur <= 0 {
			<-measureCtx.Done()
			return
		}
		t := time.NewTicker(time.Duration(dur) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := c.measurer.Output(out); err != nil {
					log.Warnf("output measurements failed: %v", err)
				}
			case <-measureCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(threadCount)
	for i := 0; i < threadCount; i++ {
		w := &worker{c: c, threadID: i, opCount: opCount / int64(threadCount)}
		if i == 0 {
			w.opCount += opCount % int64(threadCount)
		}
		go func(w *worker) {
			defer wg.Done()
			ctx := c.workload.InitThread(ctx, w.threadID, threadCount)
			w.run(ctx)
			c.workload.CleanupThread(ctx)

			c.mu.Lock()
			c.attempts = append(c.attempts, w.attempts...)
			c.mu.Unlock()
		}(w)
	}
	wg.Wait()

	measureCancel()
	<-measureCh
	return nil
}

// Errors returns the number of operations which failed.
func (c *Client) Errors() int64 {
	return c.errors.Load()
}

// Operations returns the number of operations done.
func (c *Client) Operations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attempts)
}

// AttemptSummary describes how many attempts the operations needed.
type AttemptSummary struct {
	Mean   float64
	Median float64
	P99    float64
	Max    float64
	StdDev float64
}

func (s AttemptSummary) String() string {
	return fmt.Sprintf("Attempts - Mean: %.2f, Median: %.0f, 99th: %.0f, Max: %.0f, StdDev: %.2f",
		s.Mean, s.Median, s.P99, s.Max, s.StdDev)
}

// Attempts summarizes the attempts of every operation done.
func (c *Client) Attempts() (AttemptSummary, error) {
	c.mu.Lock()
	data := c.attempts
	c.mu.Unlock()

	var (
		s   AttemptSummary
		err error
	)
	if s.Mean, err = data.Mean(); err != nil {
		return s, errors.WithStack(err)
	}
	if s.Median, err = data.Median(); err != nil {
		return s, errors.WithStack(err)
	}
	if s.P99, err = data.Percentile(99); err != nil {
		return s, errors.WithStack(err)
	}
	if s.Max, err = data.Max(); err != nil {
		return s, errors.WithStack(err)
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return s, errors.WithStack(err)
	}
	return s, nil
}
