package flow

import (
	"errors"
	"fmt"
)

// Dissector is the protocol identification hook driven by the table. It may
// only mutate the record's protocol identification state.
type Dissector interface {
	Dissect(Event, *Record)
}

// Hooks is the user extension chain invoked at flow creation, on every
// further packet and at expiry. Errors abort the run (fail-fast policy);
// a degrading chain handles failures internally and returns nil.
type Hooks interface {
	Init(Event, View) error
	Update(Event, View) error
	Expire(View)
}

// Emit receives records that finished their life cycle. It may block; the
// table's owner inherits the back-pressure.
type Emit func(*Record)

// TableConfig holds the per-run settings of a flow table.
type TableConfig struct {
	IdleTimeout    DateTimeNanoseconds
	ActiveTimeout  DateTimeNanoseconds
	AccountingMode AccountingMode
	SPLTCapacity   int
	// ExpirySweep bounds the number of expiry candidates polled per
	// admitted packet. Zero selects a sane default.
	ExpirySweep int
}

const defaultExpirySweep = 8

// Validate rejects configurations that must not start a run.
func (cfg *TableConfig) Validate() error {
	if cfg.IdleTimeout <= 0 {
		return errors.New("flow: idle timeout must be positive")
	}
	if cfg.ActiveTimeout <= 0 {
		return errors.New("flow: active timeout must be positive")
	}
	if cfg.SPLTCapacity < 0 {
		return errors.New("flow: splt capacity must not be negative")
	}
	if cfg.AccountingMode > AccountPayload {
		return fmt.Errorf("flow: invalid accounting mode %d", cfg.AccountingMode)
	}
	if cfg.ExpirySweep < 0 {
		return errors.New("flow: expiry sweep must not be negative")
	}
	return nil
}

// TableStats counts table activity per expiry reason.
type TableStats struct {
	Created   uint64
	Idle      uint64
	Active    uint64
	End       uint64
	Forced    uint64
	Dissected uint64
}

// Emitted returns the number of flushed records.
func (s *TableStats) Emitted() uint64 {
	return s.Idle + s.Active + s.End + s.Forced
}

// Table is the per-worker mapping from flow key to record, plus the
// time-ordered structures driving expiry. It must only be used from a
// single goroutine.
type Table struct {
	cfg       TableConfig
	flows     map[string]*Record
	dissector Dissector
	hooks     Hooks
	emit      Emit
	now       DateTimeNanoseconds
	stats     TableStats

	// idle list: most recently seen at head, expiry candidates at tail
	idleHead, idleTail *Record
	// active list: creation order, expiry candidates at head
	activeHead, activeTail *Record
}

// NewTable creates a flow table. dissector and hooks may be nil, emit must
// not.
func NewTable(cfg TableConfig, dissector Dissector, hooks Hooks, emit Emit) *Table {
	if cfg.ExpirySweep == 0 {
		cfg.ExpirySweep = defaultExpirySweep
	}
	return &Table{
		cfg:       cfg,
		flows:     make(map[string]*Record, 4096),
		dissector: dissector,
		hooks:     hooks,
		emit:      emit,
	}
}

// Len returns the number of active flows.
func (t *Table) Len() int { return len(t.flows) }

// Stats returns the table counters.
func (t *Table) Stats() TableStats { return t.stats }

// Now returns the table clock, which follows admitted packet timestamps
// monotonically.
func (t *Table) Now() DateTimeNanoseconds { return t.now }

// timeoutReason checks the expiry condition of r at now. Active expiry wins
// if both timeouts are satisfied at once.
func (t *Table) timeoutReason(r *Record, now DateTimeNanoseconds) (FlowEndReason, bool) {
	if now-r.First >= t.cfg.ActiveTimeout {
		return FlowEndReasonActive, true
	}
	if now-r.Last >= t.cfg.IdleTimeout {
		return FlowEndReasonIdle, true
	}
	return 0, false
}

// Event admits a single packet. It creates or updates the matching record,
// lazily expires due flows and emits them. The returned error is non-nil
// only for fail-fast hook failures; the run must stop then.
func (t *Table) Event(ev Event) error {
	when := ev.Timestamp()
	if when > t.now {
		t.now = when
	}
	key := ev.Key()

	r := t.flows[key]
	if r != nil {
		if reason, due := t.timeoutReason(r, t.now); due {
			t.expire(r, reason)
			r = nil
		}
	}

	var err error
	if r == nil {
		r = newRecord(ev, t.cfg.SPLTCapacity)
		t.flows[key] = r
		t.idlePushFront(r)
		t.activePushBack(r)
		t.stats.Created++
		r.update(ev, DirForward, t.cfg.AccountingMode)
		t.dissect(ev, r)
		if t.hooks != nil {
			err = t.hooks.Init(ev, View{r: r})
		}
		// a flow opened by a reset still ends right away
		if flags, ok := ev.TCPFlags(); ok && r.tcpEvent(flags, DirForward) {
			t.expire(r, FlowEndReasonEnd)
		}
	} else {
		dir := r.Direction(ev)
		r.update(ev, dir, t.cfg.AccountingMode)
		t.idleMoveFront(r)
		t.dissect(ev, r)
		if t.hooks != nil {
			err = t.hooks.Update(ev, View{r: r})
		}
		if flags, ok := ev.TCPFlags(); ok && r.tcpEvent(flags, dir) {
			t.expire(r, FlowEndReasonEnd)
		}
	}
	if err != nil {
		return err
	}

	t.sweep()
	return nil
}

func (t *Table) dissect(ev Event, r *Record) {
	if t.dissector == nil {
		return
	}
	before := r.Dissections
	t.dissector.Dissect(ev, r)
	if r.Dissections > before {
		t.stats.Dissected++
	}
}

// sweep polls a bounded number of expiry candidates from both time-ordered
// lists. Together with the check on the admitted flow this keeps per-packet
// cost constant while never emitting a record before its condition holds.
func (t *Table) sweep() {
	budget := t.cfg.ExpirySweep
	for r := t.activeHead; r != nil && budget > 0; budget-- {
		reason, due := t.timeoutReason(r, t.now)
		if !due {
			break
		}
		next := r.activeNext
		t.expire(r, reason)
		r = next
	}
	for r := t.idleTail; r != nil && budget > 0; budget-- {
		reason, due := t.timeoutReason(r, t.now)
		if !due {
			break
		}
		prev := r.idlePrev
		t.expire(r, reason)
		r = prev
	}
}

// expire finalizes r and hands it to the emit callback. After this the key
// is free for a new, distinct flow.
func (t *Table) expire(r *Record, reason FlowEndReason) {
	r.EndReason = reason
	r.state = StateExpired
	if t.hooks != nil {
		t.hooks.Expire(View{r: r})
	}
	delete(t.flows, r.key)
	t.idleRemove(r)
	t.activeRemove(r)
	switch reason {
	case FlowEndReasonIdle:
		t.stats.Idle++
	case FlowEndReasonActive:
		t.stats.Active++
	case FlowEndReasonEnd:
		t.stats.End++
	default:
		t.stats.Forced++
	}
	r.state = StateFlushed
	t.emit(r)
}

// EOF force-expires every remaining flow. Flows whose timeout already
// passed keep their timeout reason; the rest leave as forced end.
func (t *Table) EOF(now DateTimeNanoseconds) {
	if now > t.now {
		t.now = now
	}
	for t.activeHead != nil {
		r := t.activeHead
		reason, due := t.timeoutReason(r, t.now)
		if !due {
			reason = FlowEndReasonForcedEnd
		}
		t.expire(r, reason)
	}
}

// Discard drops all remaining flows without emitting them (hard stop).
func (t *Table) Discard() {
	t.flows = make(map[string]*Record)
	t.idleHead, t.idleTail = nil, nil
	t.activeHead, t.activeTail = nil, nil
}

func (t *Table) idlePushFront(r *Record) {
	r.idlePrev = nil
	r.idleNext = t.idleHead
	if t.idleHead != nil {
		t.idleHead.idlePrev = r
	}
	t.idleHead = r
	if t.idleTail == nil {
		t.idleTail = r
	}
}

func (t *Table) idleRemove(r *Record) {
	if r.idlePrev != nil {
		r.idlePrev.idleNext = r.idleNext
	} else if t.idleHead == r {
		t.idleHead = r.idleNext
	}
	if r.idleNext != nil {
		r.idleNext.idlePrev = r.idlePrev
	} else if t.idleTail == r {
		t.idleTail = r.idlePrev
	}
	r.idlePrev, r.idleNext = nil, nil
}

func (t *Table) idleMoveFront(r *Record) {
	if t.idleHead == r {
		return
	}
	t.idleRemove(r)
	t.idlePushFront(r)
}

func (t *Table) activePushBack(r *Record) {
	r.activeNext = nil
	r.activePrev = t.activeTail
	if t.activeTail != nil {
		t.activeTail.activeNext = r
	}
	t.activeTail = r
	if t.activeHead == nil {
		t.activeHead = r
	}
}

func (t *Table) activeRemove(r *Record) {
	if r.activePrev != nil {
		r.activePrev.activeNext = r.activeNext
	} else if t.activeHead == r {
		t.activeHead = r.activeNext
	}
	if r.activeNext != nil {
		r.activeNext.activePrev = r.activePrev
	} else if t.activeTail == r {
		t.activeTail = r.activePrev
	}
	r.activePrev, r.activeNext = nil, nil
}
