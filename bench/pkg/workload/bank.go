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
)

const auditProportion = 0.01

// bank moves money between accounts. The total never changes, and an audit
// reading every account always sees the initial total.
type bank struct {
	base

	initial int64
	total   int64
}

// Load implements the Workload Load interface.
func (b *bank) Load(_ context.Context) error {
	b.load(b.initial)
	b.total = b.initial * b.refCount
	return nil
}

// DoTransaction implements the Workload DoTransaction interface.
func (b *bank) DoTransaction(ctx context.Context) (Outcome, error) {
	r := threadRand(ctx)
	if b.refCount < 2 || r.Float64() < auditProportion {
		return b.audit(ctx)
	}

	accounts := b.nextRefs(r, 2)
	from, to := accounts[0], accounts[1]
	want := r.Int63n(b.initial) + 1
	return b.run(ctx, "TRANSFER", func(ctx context.Context) (interface{}, error) {
		balance, err := from.Deref(ctx)
		if err != nil {
			return nil, err
		}
		amount := want
		if balance.(int64) < amount {
			amount = balance.(int64)
		}
		if _, err := from.Alter(ctx, add, -amount); err != nil {
			return nil, err
		}
		return to.Alter(ctx, add, amount)
	})
}

func (b *bank) audit(ctx context.Context) (Outcome, error) {
	return b.run(ctx, "AUDIT", func(ctx context.Context) (interface{}, error) {
		total, err := b.sum(ctx, b.refs)
		if err != nil {
			return nil, err
		}
		if total != b.total {
			return nil, errors.Errorf("audit saw total %d, expected %d", total, b.total)
		}
		return total, nil
	})
}

// Verify implements the Workload Verify interface.
func (b *bank) Verify(ctx context.Context) error {
	total, err := b.sum(ctx, b.refs)
	if err != nil {
		return err
	}
	if total != b.total {
		return errors.Errorf("bank total %d, expected %d", total, b.total)
	}
	for i, ref := range b.refs {
		v, err := ref.Deref(ctx)
		if err != nil {
			return err
		}
		if v.(int64) < 0 {
			return errors.Errorf("account %d overdrawn: %d", i, v)
		}
	}
	return nil
}

type bankCreator struct{}

func (bankCreator) Create(p *properties.Properties, e *stm.Engine) (Workload, error) {
	b, err := newBase(p, e)
	if err != nil {
		return nil, err
	}
	initial := p.GetInt64(prop.InitialBalance, prop.InitialBalanceDefault)
	if initial <= 0 {
		return nil, errors.Errorf("%s must be positive, got %d", prop.InitialBalance, initial)
	}
	return &bank{base: b, initial: initial}, nil
}

func init() {
	Register("bank", bankCreator{})
}
