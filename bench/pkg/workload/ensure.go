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
	"github.com/tinyclj/tinyclj/bench/pkg/prop"
	"github.com/tinyclj/tinyclj/rt/stm"
	"go.uber.org/atomic"
)

// ensure pairs the refs up. A withdrawal takes from one ref of a pair as long
// as the pair as a whole stays non-negative, which holds only if the other
// ref can't change meanwhile: it is ensured, not written. Checks ensure both
// refs of a pair and look at their sum.
type ensure struct {
	base

	initial    int64
	proportion float64
	withdrawn  atomic.Int64
	initialSum int64
}

// Load implements the Workload Load interface.
func (e *ensure) Load(_ context.Context) error {
	e.load(e.initial)
	e.initialSum = e.initial * e.refCount
	return nil
}

func (e *ensure) pair(k int64) (mine, other *stm.Ref) {
	return e.refs[k], e.refs[k^1]
}

// DoTransaction implements the Workload DoTransaction interface.
func (e *ensure) DoTransaction(ctx context.Context) (Outcome, error) {
	r := threadRand(ctx)
	mine, other := e.pair(e.keyChooser.Next(r))
	if r.Float64() < e.proportion {
		return e.run(ctx, "ENSURE", func(ctx context.Context) (interface{}, error) {
			if err := mine.Touch(ctx); err != nil {
				return nil, err
			}
			if err := other.Touch(ctx); err != nil {
				return nil, err
			}
			total, err := e.pairSum(ctx, mine, other)
			if err != nil {
				return nil, err
			}
			if total < 0 {
				return nil, errors.Errorf("pair %v/%v is negative: %d", mine, other, total)
			}
			return total, nil
		})
	}

	amount := r.Int63n(e.initial) + 1
	var took int64
	out, err := e.run(ctx, "WITHDRAW", func(ctx context.Context) (interface{}, error) {
		took = 0
		if err := other.Touch(ctx); err != nil {
			return nil, err
		}
		total, err := e.pairSum(ctx, mine, other)
		if err != nil {
			return nil, err
		}
		if total < amount {
			return nil, nil
		}
		took = amount
		return mine.Alter(ctx, add, -amount)
	})
	if err == nil {
		e.withdrawn.Add(took)
	}
	return out, err
}

func (e *ensure) pairSum(ctx context.Context, refs ...*stm.Ref) (int64, error) {
	var total int64
	for _, ref := range refs {
		v, err := ref.Deref(ctx)
		if err != nil {
			return 0, err
		}
		total += v.(int64)
	}
	return total, nil
}

// Verify implements the Workload Verify interface.
func (e *ensure) Verify(ctx context.Context) error {
	for k := int64(0); k < e.refCount; k += 2 {
		mine, other := e.pair(k)
		total, err := e.sum(ctx, []*stm.Ref{mine, other})
		if err != nil {
			return err
		}
		if total < 0 {
			return errors.Errorf("pair %d is negative: %d", k/2, total)
		}
	}
	total, err := e.sum(ctx, e.refs)
	if err != nil {
		return err
	}
	if expected := e.initialSum - e.withdrawn.Load(); total != expected {
		return errors.Errorf("total %d, expected %d", total, expected)
	}
	return nil
}

type ensureCreator struct{}

func (ensureCreator) Create(p *properties.Properties, engine *stm.Engine) (Workload, error) {
	b, err := newBase(p, engine)
	if err != nil {
		return nil, err
	}
	if b.refCount%2 != 0 {
		return nil, errors.Errorf("%s must be even for the ensure workload, got %d", prop.RefCount, b.refCount)
	}
	initial := p.GetInt64(prop.InitialBalance, prop.InitialBalanceDefault)
	if initial <= 0 {
		return nil, errors.Errorf("%s must be positive, got %d", prop.InitialBalance, initial)
	}
	return &ensure{
		base:       b,
		initial:    initial,
		proportion: p.GetFloat64(prop.EnsureProportion, prop.EnsureProportionDefault),
	}, nil
}

func init() {
	Register("ensure", ensureCreator{})
}
