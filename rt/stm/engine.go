package stm

import (
	"sync"

	"github.com/tinyclj/tinyclj/log"
	"github.com/tinyclj/tinyclj/rt/config"
	"github.com/tinyclj/tinyclj/rt/stm/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Engine is the shared state of the transactional memory: the clock every
// transaction takes its points from, the allocator of ref ids and the registry
// of running transactions. An Engine is created once and lives as long as the
// refs created from it; it is never reset.
type Engine struct {
	conf   config.STM
	clock  clock.Oracle
	logger *zap.Logger

	refIDs atomic.Uint64
	txnIDs atomic.Uint64

	registry registry
	stats    stats
}

type Option func(e *Engine)

// WithClock replaces the engine's logical clock, typically with a
// clock.Manual in tests.
func WithClock(c clock.Oracle) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine. A nil conf means config.NewDefaultConfig().
func NewEngine(conf *config.Config, opts ...Option) (*Engine, error) {
	if conf == nil {
		conf = config.NewDefaultConfig()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		conf:   conf.STM,
		clock:  clock.NewLogical(),
		logger: log.L(),
	}
	e.registry.txns = make(map[uint64]*Txn)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MustNewEngine is like NewEngine but panics on an invalid config.
func MustNewEngine(conf *config.Config, opts ...Option) *Engine {
	e, err := NewEngine(conf, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) Clock() clock.Oracle {
	return e.clock
}

func (e *Engine) Config() config.STM {
	return e.conf
}

// ActiveTransactions returns the number of transaction attempts running now.
func (e *Engine) ActiveTransactions() int {
	return e.registry.len()
}

// registry tracks the running attempt of every transaction.
type registry struct {
	mu   sync.Mutex
	txns map[uint64]*Txn
}

func (r *registry) add(tx *Txn) {
	r.mu.Lock()
	r.txns[tx.info.id] = tx
	r.mu.Unlock()
	activeGauge.Inc()
}

func (r *registry) remove(tx *Txn) {
	r.mu.Lock()
	delete(r.txns, tx.info.id)
	r.mu.Unlock()
	activeGauge.Dec()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txns)
}

type stats struct {
	attempts      atomic.Uint64
	commits       atomic.Uint64
	failures      atomic.Uint64
	aborts        atomic.Uint64
	barges        atomic.Uint64
	historyFaults atomic.Uint64
	retries       [retryReasonCount]atomic.Uint64
}

// Stats is a snapshot of an engine's counters.
type Stats struct {
	// Attempts counts every run of a transaction body.
	Attempts uint64
	Commits  uint64
	// Failures counts transactions which ran out of retries.
	Failures uint64
	// Aborts counts transactions ended by an error of the body.
	Aborts        uint64
	Barges        uint64
	HistoryFaults uint64
	Retries       map[RetryReason]uint64
}

// TotalRetries sums the retries of every reason.
func (s Stats) TotalRetries() uint64 {
	var n uint64
	for _, c := range s.Retries {
		n += c
	}
	return n
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Attempts:      e.stats.attempts.Load(),
		Commits:       e.stats.commits.Load(),
		Failures:      e.stats.failures.Load(),
		Aborts:        e.stats.aborts.Load(),
		Barges:        e.stats.barges.Load(),
		HistoryFaults: e.stats.historyFaults.Load(),
		Retries:       make(map[RetryReason]uint64, retryReasonCount),
	}
	for r := RetryReason(0); r < retryReasonCount; r++ {
		s.Retries[r] = e.stats.retries[r].Load()
	}
	return s
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide engine used by the package level helpers.
// It is created on first use from the default config.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine = MustNewEngine(nil)
	})
	return defaultEngine
}
