package meter

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CN-TU/go-meter/classify"
	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/plugin"
	"github.com/CN-TU/go-meter/util"
)

// Config holds the run-level settings of a Meter.
type Config struct {
	// IdleTimeout expires flows without traffic for this long.
	IdleTimeout time.Duration
	// ActiveTimeout expires flows older than this regardless of activity.
	ActiveTimeout time.Duration
	// AccountingMode selects the layer counted as bytes.
	AccountingMode flow.AccountingMode
	// SPLTCapacity is the early-sequence buffer size per flow, zero
	// disables the sub-feature.
	SPLTCapacity int
	// MaxDissections bounds classifier invocations per flow, zero
	// disables layer 7 visibility.
	MaxDissections int
	// Classifier is the external protocol identification engine. Nil
	// with MaxDissections > 0 selects the built-in port classifier.
	Classifier classify.Classifier
	// Workers is the number of parallel metering workers. Zero selects
	// the available hardware parallelism.
	Workers int
	// Plugins are the user extensions, dispatched in this order.
	Plugins []plugin.Plugin
	// HookPolicy selects how failing plugins are handled.
	HookPolicy plugin.Policy
	// InputBuffer is the per-worker packet channel capacity.
	InputBuffer int
	// OutputBuffer is the capacity of the merged record channel, the
	// sole synchronization point towards the consumer.
	OutputBuffer int
	// PerformanceInterval enables periodic performance snapshots when
	// positive. Meant for live captures.
	PerformanceInterval time.Duration
	// Prometheus optionally registers the run's metrics.
	Prometheus Registerer
}

const (
	// DefaultIdleTimeout expires flows after two minutes without traffic.
	DefaultIdleTimeout = 120 * time.Second
	// DefaultActiveTimeout expires flows after thirty minutes.
	DefaultActiveTimeout = 1800 * time.Second
	// DefaultMaxDissections bounds per-flow classifier work.
	DefaultMaxDissections = 20

	defaultInputBuffer  = 256
	defaultOutputBuffer = 1024
)

func (cfg *Config) normalize() error {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ActiveTimeout == 0 {
		cfg.ActiveTimeout = DefaultActiveTimeout
	}
	if cfg.IdleTimeout < 0 || cfg.ActiveTimeout < 0 {
		return errors.New("meter: timeouts must be positive")
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("meter: %d workers requested, need at least 1", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxDissections < 0 {
		return errors.New("meter: max dissections must not be negative")
	}
	if cfg.SPLTCapacity < 0 {
		return errors.New("meter: splt capacity must not be negative")
	}
	if cfg.InputBuffer <= 0 {
		cfg.InputBuffer = defaultInputBuffer
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = defaultOutputBuffer
	}
	if cfg.Classifier == nil && cfg.MaxDissections > 0 {
		cfg.Classifier = classify.NewPortClassifier()
	}
	return nil
}

// Meter converts a packet source into a merged stream of flow records. N
// workers each own a flow table; packets are partitioned by flow affinity
// hash so a flow lives and dies on a single worker.
type Meter struct {
	cfg     Config
	workers []*worker
	out     chan *flow.Record
	chain   *plugin.Chain

	packets atomic.Uint64
	skipped atomic.Uint64
	emitted atomic.Uint64

	hard     atomic.Bool
	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu   sync.Mutex
	errs []error

	metrics *metrics
}

// New creates a Meter from cfg. Configuration errors are fatal before any
// worker starts.
func New(cfg Config) (*Meter, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	hookStats := &plugin.Stats{}
	chain, err := plugin.NewChain(cfg.HookPolicy, hookStats, cfg.Plugins...)
	if err != nil {
		return nil, err
	}

	tcfg := flow.TableConfig{
		IdleTimeout:    flow.DateTimeNanoseconds(cfg.IdleTimeout),
		ActiveTimeout:  flow.DateTimeNanoseconds(cfg.ActiveTimeout),
		AccountingMode: cfg.AccountingMode,
		SPLTCapacity:   cfg.SPLTCapacity,
	}
	if err := tcfg.Validate(); err != nil {
		return nil, err
	}

	m := &Meter{
		cfg:   cfg,
		out:   make(chan *flow.Record, cfg.OutputBuffer),
		chain: chain,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	var dissector flow.Dissector
	if cfg.Classifier != nil && cfg.MaxDissections > 0 {
		dissector = classify.NewAdapter(cfg.Classifier, cfg.MaxDissections)
	}

	emit := func(r *flow.Record) {
		m.emitted.Add(1)
		m.out <- r
	}
	// hooks must be an untyped nil for empty chains, a typed nil *Chain
	// works as well but the explicit branch keeps the table fast path
	var hooks flow.Hooks
	if chain.Len() > 0 {
		hooks = chain
	}

	m.workers = make([]*worker, cfg.Workers)
	for i := range m.workers {
		table := flow.NewTable(tcfg, dissector, hooks, emit)
		m.workers[i] = newWorker(i, table, cfg.InputBuffer, &m.hard, m.fail)
	}

	m.metrics = newMetrics(m, cfg.Prometheus)
	return m, nil
}

// Start begins reading from src. The record stream becomes available on
// Records and is closed once the source is exhausted and all workers
// drained. Start must be called at most once.
func (m *Meter) Start(src Source) error {
	if err := src.Init(); err != nil {
		return fmt.Errorf("meter: source %s failed: %w", src.ID(), err)
	}

	var wg sync.WaitGroup
	wg.Add(len(m.workers))
	for _, w := range m.workers {
		go func(w *worker) {
			defer wg.Done()
			w.run()
		}(w)
	}

	if m.cfg.PerformanceInterval > 0 {
		go m.report()
	}

	go func() {
		defer close(m.done)
		m.read(src)
		for _, w := range m.workers {
			close(w.in)
		}
		wg.Wait()
		close(m.out)
	}()
	return nil
}

// read is the dispatch loop: pull, decode, fan out by flow affinity.
func (m *Meter) read(src Source) {
	dec := newDecoder()
	num := uint64(len(m.workers))
	for {
		select {
		case <-m.quit:
			src.Stop()
			return
		default:
		}
		lt, data, ci, err := src.ReadPacket()
		if err == io.EOF {
			return
		}
		if err != nil {
			// a dying source ends the run like EOF does, with every
			// in-flight flow flushed instead of discarded
			util.LogWarn("packet source failed, draining",
				"source", src.ID(), "error", err)
			return
		}
		m.packets.Add(1)
		pkt := getPacket()
		if !dec.decode(lt, data, ci, pkt) {
			m.skipped.Add(1)
			pkt.recycle()
			continue
		}
		m.workers[pkt.hash%num].in <- pkt
	}
}

// Records returns the merged stream of flushed flow records. Each flow is
// emitted exactly once, fully formed; ordering across flows is unspecified.
func (m *Meter) Records() <-chan *flow.Record {
	return m.out
}

// Stop cancels the run between packets. With graceful set, in-flight flows
// are force-flushed into the record stream; otherwise they are discarded.
// The caller must keep draining Records either way.
func (m *Meter) Stop(graceful bool) {
	m.stopOnce.Do(func() {
		if !graceful {
			m.hard.Store(true)
		}
		close(m.quit)
	})
}

// Wait blocks until the record stream is closed and returns the run error,
// if any.
func (m *Meter) Wait() error {
	<-m.done
	return m.Err()
}

// Err returns the errors collected during the run.
func (m *Meter) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}

func (m *Meter) fail(err error) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
	m.Stop(false)
}

func (m *Meter) workerPhases() (running, draining, done int) {
	for _, w := range m.workers {
		switch w.state.Load() {
		case workerDraining:
			draining++
		case workerDone:
			done++
		default:
			running++
		}
	}
	return
}

func (m *Meter) activeFlows() int64 {
	var n int64
	for _, w := range m.workers {
		n += w.flows.Load()
	}
	return n
}

// Summary aggregates the run counters. Table counters are only stable after
// Wait returned.
type Summary struct {
	Packets     uint64
	Skipped     uint64
	Flows       uint64
	Emitted     uint64
	FailedHooks uint64
	Expired     map[string]uint64
}

// Summary returns the run summary. Call after Wait.
func (m *Meter) Summary() Summary {
	s := Summary{
		Packets: m.packets.Load(),
		Skipped: m.skipped.Load(),
		Emitted: m.emitted.Load(),
		Expired: make(map[string]uint64, 4),
	}
	if m.chain.Len() > 0 {
		s.FailedHooks = m.chain.Stats().FailedHooks.Load()
	}
	for _, w := range m.workers {
		ts := w.table.Stats()
		s.Flows += ts.Created
		s.Expired[flow.FlowEndReasonIdle.String()] += ts.Idle
		s.Expired[flow.FlowEndReasonActive.String()] += ts.Active
		s.Expired[flow.FlowEndReasonEnd.String()] += ts.End
		s.Expired[flow.FlowEndReasonForcedEnd.String()] += ts.Forced
	}
	return s
}

// report logs periodic performance snapshots until the run finishes.
func (m *Meter) report() {
	ticker := time.NewTicker(m.cfg.PerformanceInterval)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			packets := m.packets.Load()
			rate := float64(packets-last) / m.cfg.PerformanceInterval.Seconds()
			last = packets
			running, draining, done := m.workerPhases()
			util.LogInfo("performance snapshot",
				"packets", packets,
				"packets_per_second", rate,
				"active_flows", m.activeFlows(),
				"skipped", m.skipped.Load(),
				"emitted", m.emitted.Load(),
				"workers_running", running,
				"workers_draining", draining,
				"workers_done", done)
		}
	}
}
