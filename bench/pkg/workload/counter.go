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

package workload

import (
	"context"

	"github.com/magiconair/properties"
	"github.com/pkg/errors"
	"github.com/tinyclj/tinyclj/rt/stm"
	"go.uber.org/atomic"
)

// counter increments one ref per operation, with Alter or with Commute.
// Every committed increment must show up in the sum of the refs.
type counter struct {
	base

	commute   bool
	committed atomic.Int64
}

// DoTransaction implements the Workload DoTransaction interface.
func (c *counter) DoTransaction(ctx context.Context) (Outcome, error) {
	ref := c.nextRef(threadRand(ctx))
	op := "INCREMENT"
	if c.commute {
		op = "COMMUTE"
	}
	out, err := c.run(ctx, op, func(ctx context.Context) (interface{}, error) {
		if c.commute {
			return ref.Commute(ctx, add, int64(1))
		}
		return ref.Alter(ctx, add, int64(1))
	})
	if err == nil {
		c.committed.Inc()
	}
	return out, err
}

// Load implements the Workload Load interface.
func (c *counter) Load(_ context.Context) error {
	c.load(int64(0))
	return nil
}

// Verify implements the Workload Verify interface.
func (c *counter) Verify(ctx context.Context) error {
	total, err := c.sum(ctx, c.refs)
	if err != nil {
		return err
	}
	if committed := c.committed.Load(); total != committed {
		return errors.Errorf("counter total %d, %d increments committed", total, committed)
	}
	return nil
}

type counterCreator struct {
	commute bool
}

func (cc counterCreator) Create(p *properties.Properties, e *stm.Engine) (Workload, error) {
	b, err := newBase(p, e)
	if err != nil {
		return nil, err
	}
	return &counter{base: b, commute: cc.commute}, nil
}

func init() {
	Register("counter", counterCreator{})
	Register("commute", counterCreator{commute: true})
}
