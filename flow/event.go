package flow

import "net"

// AccountingMode selects which protocol layer's length field is counted as
// "bytes". The chosen mode applies to every byte counter of a run.
type AccountingMode byte

const (
	// AccountLink counts the full layer 2 frame.
	AccountLink AccountingMode = iota
	// AccountNetwork counts the layer 3 header plus payload.
	AccountNetwork
	// AccountTransport counts the layer 4 header plus payload.
	AccountTransport
	// AccountPayload counts the layer 4 payload only.
	AccountPayload
)

func (a AccountingMode) String() string {
	switch a {
	case AccountLink:
		return "link"
	case AccountNetwork:
		return "network"
	case AccountTransport:
		return "transport"
	case AccountPayload:
		return "payload"
	default:
		return "invalid"
	}
}

// ParseAccountingMode converts a mode name to an AccountingMode.
func ParseAccountingMode(s string) (AccountingMode, bool) {
	switch s {
	case "link", "":
		return AccountLink, true
	case "network", "ip":
		return AccountNetwork, true
	case "transport":
		return AccountTransport, true
	case "payload", "application":
		return AccountPayload, true
	}
	return AccountLink, false
}

// TCPFlags holds the subset of tcp header flags relevant for flow teardown.
type TCPFlags byte

const (
	TCPFin TCPFlags = 1 << iota
	TCPSyn
	TCPRst
	TCPAck
)

// Event is a single admitted packet as seen by a Table. Implementations must
// compute the key as a pure function of the packet headers, symmetric under
// direction swap.
type Event interface {
	// Timestamp returns the capture timestamp of the event.
	Timestamp() DateTimeNanoseconds
	// Key returns the direction-invariant flow key.
	Key() string
	// Hash returns a hash of Key suitable for worker affinity.
	Hash() uint64
	// LowToHigh returns true if this packet travels from the
	// lexicographically lower endpoint to the higher one.
	LowToHigh() bool
	// Bytes returns the packet length under the given accounting mode.
	Bytes(AccountingMode) uint64
	// Network returns the network layer endpoints in packet order.
	Network() (src, dst net.IP, proto uint8)
	// Transport returns the transport ports in packet order (zero if none).
	Transport() (src, dst uint16)
	// VLAN returns the vlan discriminator (zero if untagged).
	VLAN() uint16
	// Payload returns the transport payload. Must only be accessed during
	// the admission of this event.
	Payload() []byte
	// TCPFlags returns the tcp flags, ok is false for non-tcp packets.
	TCPFlags() (flags TCPFlags, ok bool)
}
