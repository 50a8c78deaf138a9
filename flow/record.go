package flow

import "net"

// LifecycleState tracks a record from creation to emission.
type LifecycleState byte

const (
	// StateActive record is in a table and mutated by packets
	StateActive LifecycleState = iota
	// StateExpired expiry condition held, record left its table
	StateExpired
	// StateFlushed record was emitted; terminal
	StateFlushed
)

func (s LifecycleState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateExpired:
		return "EXPIRED"
	case StateFlushed:
		return "FLUSHED"
	default:
		return "INVALID"
	}
}

// Direction of a packet relative to the flow's first packet.
type Direction int

const (
	// DirForward src → dst as defined by the flow's first packet
	DirForward Direction = 0
	// DirBackward dst → src
	DirBackward Direction = 1
	// DirBoth combined accumulators
	DirBoth Direction = 2
)

// DirStats holds the packet and byte counters of one direction.
type DirStats struct {
	Packets uint64
	Bytes   uint64
}

// SPLT is the bounded early-sequence record of the first packets of a flow:
// accounted size, inter-arrival time and direction per packet, in admission
// order. Once capacity is reached further packets are ignored.
type SPLT struct {
	Sizes []uint64
	IATs  []DateTimeNanoseconds
	Dirs  []Direction
}

// Len returns the number of recorded packets.
func (s *SPLT) Len() int { return len(s.Sizes) }

func (s *SPLT) push(size uint64, iat DateTimeNanoseconds, dir Direction) {
	if len(s.Sizes) == cap(s.Sizes) {
		return
	}
	s.Sizes = append(s.Sizes, size)
	s.IATs = append(s.IATs, iat)
	s.Dirs = append(s.Dirs, dir)
}

// Record is the mutable aggregation state of a single flow. It is owned by
// the table (and therefore the worker) that created it until it is flushed.
type Record struct {
	key  string
	hash uint64

	// identity, direction 0 defined by the first packet
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	Proto     uint8
	VLAN      uint16
	lowToHigh bool

	First DateTimeNanoseconds
	Last  DateTimeNanoseconds

	// per direction counters; combined values via Packets()/Bytes()
	Counters [2]DirStats

	// statistical accumulators indexed by Direction (DirBoth = combined)
	PS  [3]RunningStat
	IAT [3]RunningStat

	SPLT SPLT

	// protocol identification state
	App           string
	AppConfidence float64
	Dissections   int
	AppFinal      bool

	EndReason FlowEndReason

	user          map[string]Value
	disabledHooks uint64
	lastByDir     [2]DateTimeNanoseconds

	// tcp teardown tracking
	srcFIN, dstFIN, srcACK, dstACK bool

	state LifecycleState

	// intrusive expiry list links, owned by the table
	idlePrev, idleNext     *Record
	activePrev, activeNext *Record
}

func newRecord(ev Event, capacity int) *Record {
	src, dst, proto := ev.Network()
	sport, dport := ev.Transport()
	r := &Record{
		key:       ev.Key(),
		hash:      ev.Hash(),
		SrcIP:     append(net.IP(nil), src...),
		DstIP:     append(net.IP(nil), dst...),
		SrcPort:   sport,
		DstPort:   dport,
		Proto:     proto,
		VLAN:      ev.VLAN(),
		lowToHigh: ev.LowToHigh(),
		First:     ev.Timestamp(),
		Last:      ev.Timestamp(),
	}
	if capacity > 0 {
		r.SPLT.Sizes = make([]uint64, 0, capacity)
		r.SPLT.IATs = make([]DateTimeNanoseconds, 0, capacity)
		r.SPLT.Dirs = make([]Direction, 0, capacity)
	}
	return r
}

// Key returns the direction-invariant flow key.
func (r *Record) Key() string { return r.key }

// Hash returns the affinity hash of the flow key.
func (r *Record) Hash() uint64 { return r.hash }

// State returns the lifecycle state.
func (r *Record) State() LifecycleState { return r.state }

// Direction returns the direction of ev relative to this flow.
func (r *Record) Direction(ev Event) Direction {
	if ev.LowToHigh() == r.lowToHigh {
		return DirForward
	}
	return DirBackward
}

// Packets returns the combined packet count.
func (r *Record) Packets() uint64 {
	return r.Counters[DirForward].Packets + r.Counters[DirBackward].Packets
}

// Bytes returns the combined byte count.
func (r *Record) Bytes() uint64 {
	return r.Counters[DirForward].Bytes + r.Counters[DirBackward].Bytes
}

// AppLabel returns the protocol label, "unknown" for flows the classifier
// never named.
func (r *Record) AppLabel() string {
	if r.App == "" {
		return "unknown"
	}
	return r.App
}

// Duration returns Last - First.
func (r *Record) Duration() DateTimeNanoseconds { return r.Last - r.First }

// update is the per-packet feature extraction path. Pure mutation, never
// fails. Out of order timestamps never rewind Last.
func (r *Record) update(ev Event, dir Direction, mode AccountingMode) {
	when := ev.Timestamp()
	size := ev.Bytes(mode)

	var iat DateTimeNanoseconds
	first := r.Packets() == 0
	if !first {
		iat = when - r.Last
		if iat < 0 {
			iat = 0
		}
	}
	var dirIAT DateTimeNanoseconds
	dirFirst := r.Counters[dir].Packets == 0
	if !dirFirst {
		dirIAT = when - r.lastByDir[dir]
		if dirIAT < 0 {
			dirIAT = 0
		}
	}

	r.Counters[dir].Packets++
	r.Counters[dir].Bytes += size

	r.PS[dir].Push(float64(size))
	r.PS[DirBoth].Push(float64(size))
	if !dirFirst {
		r.IAT[dir].Push(float64(dirIAT))
	}
	if !first {
		r.IAT[DirBoth].Push(float64(iat))
	}

	r.SPLT.push(size, iat, dir)

	if when > r.Last {
		r.Last = when
	}
	if when > r.lastByDir[dir] {
		r.lastByDir[dir] = when
	}
}

// tcpEvent updates teardown tracking and reports whether both sides
// finished the connection or reset it.
func (r *Record) tcpEvent(flags TCPFlags, dir Direction) (done bool) {
	if flags&TCPRst != 0 {
		return true
	}
	if dir == DirForward {
		if flags&TCPFin != 0 {
			r.srcFIN = true
		}
		if r.dstFIN && flags&TCPAck != 0 {
			r.dstACK = true
		}
	} else {
		if flags&TCPFin != 0 {
			r.dstFIN = true
		}
		if r.srcFIN && flags&TCPAck != 0 {
			r.srcACK = true
		}
	}
	return r.srcFIN && r.srcACK && r.dstFIN && r.dstACK
}

// UserState returns the named user state value.
func (r *Record) UserState(key string) (Value, bool) {
	v, ok := r.user[key]
	return v, ok
}

// UserStateKeys returns the names present in the user state namespace.
func (r *Record) UserStateKeys() []string {
	if len(r.user) == 0 {
		return nil
	}
	ret := make([]string, 0, len(r.user))
	for k := range r.user {
		ret = append(ret, k)
	}
	return ret
}

// View is the restricted interface handed to user hooks: read access to the
// flow's features plus mutation of the user state namespace only. The
// accounting state itself stays out of reach, hooks cannot forge counters.
type View struct {
	r *Record
}

// NewView returns a restricted view of r. Exported for tests and plugin
// implementations that want to drive a record directly.
func NewView(r *Record) View { return View{r: r} }

// Key returns the direction-invariant flow key.
func (v View) Key() string { return v.r.key }

// First returns the timestamp of the flow's first packet.
func (v View) First() DateTimeNanoseconds { return v.r.First }

// Last returns the timestamp of the flow's most recent packet.
func (v View) Last() DateTimeNanoseconds { return v.r.Last }

// Duration returns Last - First.
func (v View) Duration() DateTimeNanoseconds { return v.r.Duration() }

// Packets returns the combined packet count.
func (v View) Packets() uint64 { return v.r.Packets() }

// Bytes returns the combined byte count.
func (v View) Bytes() uint64 { return v.r.Bytes() }

// Counters returns the accounting of one direction, DirForward or
// DirBackward.
func (v View) Counters(dir Direction) DirStats { return v.r.Counters[dir] }

// PacketSize returns a copy of the packet size accumulator for dir.
func (v View) PacketSize(dir Direction) RunningStat { return v.r.PS[dir] }

// InterArrival returns a copy of the inter-arrival time accumulator for dir.
func (v View) InterArrival(dir Direction) RunningStat { return v.r.IAT[dir] }

// AppLabel returns the protocol label, "unknown" for flows the classifier
// never named.
func (v View) AppLabel() string { return v.r.AppLabel() }

// EndReason returns the expiry reason, zero while the flow is active.
func (v View) EndReason() FlowEndReason { return v.r.EndReason }

// Set stores a value in the flow's user state namespace.
func (v View) Set(key string, val Value) {
	if v.r.user == nil {
		v.r.user = make(map[string]Value, 4)
	}
	v.r.user[key] = val
}

// Get returns a value from the flow's user state namespace.
func (v View) Get(key string) (Value, bool) {
	return v.r.UserState(key)
}

// Delete removes a value from the flow's user state namespace.
func (v View) Delete(key string) {
	delete(v.r.user, key)
}

// HookDisabled reports whether the hook at position i was disabled for this
// flow by the degrade policy.
func (v View) HookDisabled(i int) bool {
	return v.r.disabledHooks&(1<<uint(i)) != 0
}

// DisableHook disables the hook at position i for the rest of this flow's
// life.
func (v View) DisableHook(i int) {
	v.r.disabledHooks |= 1 << uint(i)
}
