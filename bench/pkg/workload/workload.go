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
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/magiconair/properties"
	"github.com/pkg/errors"
	"github.com/tinyclj/tinyclj/bench/pkg/generator"
	"github.com/tinyclj/tinyclj/bench/pkg/prop"
	"github.com/tinyclj/tinyclj/rt/stm"
)

// Outcome describes one finished operation.
type Outcome struct {
	// Op names the operation in the measurements.
	Op string
	// Attempts is the number of times the transaction body ran.
	Attempts int
}

// Creator creates a Workload on an engine.
type Creator interface {
	Create(p *properties.Properties, e *stm.Engine) (Workload, error)
}

// Workload is a contention scenario driven against an stm.Engine.
type Workload interface {
	// Load creates and initializes the refs of the workload.
	Load(ctx context.Context) error

	// InitThread initializes the state associated to the goroutine worker.
	// The returned context is passed to the following DoTransaction calls.
	InitThread(ctx context.Context, threadID int, threadCount int) context.Context

	// CleanupThread cleans up the state when the worker finished.
	CleanupThread(ctx context.Context)

	// DoTransaction does one operation in one transaction.
	DoTransaction(ctx context.Context) (Outcome, error)

	// Verify checks the invariant of the workload once all workers are done.
	Verify(ctx context.Context) error

	// Close closes the workload.
	Close() error
}

var creators = map[string]Creator{}

// Register registers a creator for the workload.
func Register(name string, creator Creator) {
	if _, ok := creators[name]; ok {
		panic(fmt.Sprintf("duplicate register workload %s", name))
	}
	creators[name] = creator
}

// Get gets the Creator registered under name, nil if there is none.
func Get(name string) Creator {
	return creators[name]
}

// Names returns the registered workload names, sorted.
func Names() []string {
	names := make([]string, 0, len(creators))
	for name := range creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create creates the workload named by the workload property.
func Create(p *properties.Properties, e *stm.Engine) (Workload, error) {
	name := p.GetString(prop.Workload, prop.WorkloadDefault)
	creator := Get(name)
	if creator == nil {
		return nil, errors.Errorf("unknown workload %q, expected one of %v", name, Names())
	}
	return creator.Create(p, e)
}

type contextKey string

const stateKey = contextKey("workload")

type threadState struct {
	r *rand.Rand
}

func threadRand(ctx context.Context) *rand.Rand {
	if state, ok := ctx.Value(stateKey).(*threadState); ok {
		return state.r
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// base holds what every workload shares: the engine, the refs and the
// generator choosing among them.
type base struct {
	engine     *stm.Engine
	refCount   int64
	refs       []*stm.Ref
	keyChooser generator.Generator
}

func newBase(p *properties.Properties, e *stm.Engine) (base, error) {
	refCount := p.GetInt64(prop.RefCount, prop.RefCountDefault)
	if refCount <= 0 {
		return base{}, errors.Errorf("%s must be positive, got %d", prop.RefCount, refCount)
	}
	keyChooser, err := newKeyChooser(p, refCount)
	if err != nil {
		return base{}, err
	}
	return base{
		engine:     e,
		refCount:   refCount,
		keyChooser: keyChooser,
	}, nil
}

func newKeyChooser(p *properties.Properties, refCount int64) (generator.Generator, error) {
	switch dist := p.GetString(prop.RequestDistribution, prop.RequestDistributionDefault); dist {
	case "uniform":
		return generator.NewUniform(0, refCount-1), nil
	case "zipfian":
		return generator.NewZipfianWithItems(refCount, p.GetFloat64(prop.ZipfianConstant, generator.ZipfianConstant)), nil
	case "hotspot":
		return generator.NewHotspot(0, refCount-1,
			p.GetFloat64(prop.HotspotDataFraction, prop.HotspotDataFractionDefault),
			p.GetFloat64(prop.HotspotOpnFraction, prop.HotspotOpnFractionDefault)), nil
	default:
		return nil, errors.Errorf("unknown request distribution %q", dist)
	}
}

func (b *base) load(initial interface{}) {
	b.refs = make([]*stm.Ref, b.refCount)
	for i := range b.refs {
		b.refs[i] = b.engine.NewRef(initial)
	}
}

// InitThread implements the Workload InitThread interface.
func (b *base) InitThread(ctx context.Context, threadID int, _ int) context.Context {
	state := &threadState{
		r: rand.New(rand.NewSource(time.Now().UnixNano() + int64(threadID))),
	}
	return context.WithValue(ctx, stateKey, state)
}

// CleanupThread implements the Workload CleanupThread interface.
func (b *base) CleanupThread(_ context.Context) {
}

// Close implements the Workload Close interface.
func (b *base) Close() error {
	return nil
}

func (b *base) nextRef(r *rand.Rand) *stm.Ref {
	return b.refs[b.keyChooser.Next(r)]
}

// nextRefs picks n distinct refs, n at most refCount.
func (b *base) nextRefs(r *rand.Rand, n int) []*stm.Ref {
	if int64(n) > b.refCount {
		n = int(b.refCount)
	}
	picked := make(map[int64]struct{}, n)
	refs := make([]*stm.Ref, 0, n)
	for len(refs) < n {
		k := b.keyChooser.Next(r)
		if _, ok := picked[k]; ok {
			// Skewed choosers repeat themselves, fall back to uniform.
			k = r.Int63n(b.refCount)
			if _, ok := picked[k]; ok {
				continue
			}
		}
		picked[k] = struct{}{}
		refs = append(refs, b.refs[k])
	}
	return refs
}

// run runs body in a transaction and reports it as op.
func (b *base) run(ctx context.Context, op string, body stm.Body) (Outcome, error) {
	out := Outcome{Op: op}
	_, err := b.engine.RunInTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		out.Attempts = stm.FromContext(ctx).Attempt()
		return body(ctx)
	})
	return out, err
}

// sum adds up the int64 values of refs in one transaction.
func (b *base) sum(ctx context.Context, refs []*stm.Ref) (int64, error) {
	v, err := b.engine.RunInTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		var total int64
		for _, r := range refs {
			v, err := r.Deref(ctx)
			if err != nil {
				return nil, err
			}
			total += v.(int64)
		}
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func add(old interface{}, args ...interface{}) (interface{}, error) {
	return old.(int64) + args[0].(int64), nil
}
