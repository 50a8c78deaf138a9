package meter

import (
	"sync/atomic"

	"github.com/CN-TU/go-meter/flow"
)

// worker states
const (
	workerRunning int32 = iota
	workerDraining
	workerDone
)

// worker is a single sequential metering unit. It owns its flow table
// outright; nothing else ever touches the records inside. The only blocking
// operations are the reads from its input channel and the sends of expired
// records into the shared output channel.
type worker struct {
	id     int
	table  *flow.Table
	in     chan *Packet
	state  atomic.Int32
	flows  atomic.Int64
	err    error
	failed func(error)
	hard   *atomic.Bool
}

func newWorker(id int, table *flow.Table, buffer int, hard *atomic.Bool, failed func(error)) *worker {
	return &worker{
		id:     id,
		table:  table,
		in:     make(chan *Packet, buffer),
		hard:   hard,
		failed: failed,
	}
}

// run consumes the worker's packet partition until the input channel is
// closed, then drains the table. After a fail-fast hook error the remaining
// partition is consumed without processing so the dispatcher never blocks.
func (w *worker) run() {
	w.state.Store(workerRunning)
	for pkt := range w.in {
		if w.err == nil && !w.hard.Load() {
			if err := w.table.Event(pkt); err != nil {
				w.err = err
				w.failed(err)
			}
			w.flows.Store(int64(w.table.Len()))
		}
		pkt.recycle()
	}

	w.state.Store(workerDraining)
	if w.err != nil || w.hard.Load() {
		w.table.Discard()
	} else {
		w.table.EOF(w.table.Now())
	}
	w.flows.Store(0)
	w.state.Store(workerDone)
}
