// Package meter contains the packet facing side of go-meter: the packet
// view, flow key computation, the metering workers and the dispatch/merge
// layer that fans packets out by flow affinity and merges the resulting
// record streams.
package meter

import (
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/CN-TU/go-meter/flow"
)

// Packet is the decoded view of a single captured packet. It implements
// flow.Event and owns copies of everything it exposes, so capture buffers
// can be reused immediately after decoding.
type Packet struct {
	ts        flow.DateTimeNanoseconds
	key       string
	hash      uint64
	lowToHigh bool

	srcIP   net.IP
	dstIP   net.IP
	srcPort uint16
	dstPort uint16
	proto   uint8
	vlan    uint16

	linkLen    uint64
	netLen     uint64
	transLen   uint64
	payloadLen uint64

	tcpFlags flow.TCPFlags
	isTCP    bool

	payload []byte

	srcBuf, dstBuf [16]byte
	payloadBuf     []byte
}

// Timestamp implements flow.Event.
func (p *Packet) Timestamp() flow.DateTimeNanoseconds { return p.ts }

// Key implements flow.Event.
func (p *Packet) Key() string { return p.key }

// Hash implements flow.Event.
func (p *Packet) Hash() uint64 { return p.hash }

// LowToHigh implements flow.Event.
func (p *Packet) LowToHigh() bool { return p.lowToHigh }

// Bytes implements flow.Event.
func (p *Packet) Bytes(mode flow.AccountingMode) uint64 {
	switch mode {
	case flow.AccountNetwork:
		return p.netLen
	case flow.AccountTransport:
		return p.transLen
	case flow.AccountPayload:
		return p.payloadLen
	default:
		return p.linkLen
	}
}

// Network implements flow.Event.
func (p *Packet) Network() (src, dst net.IP, proto uint8) {
	return p.srcIP, p.dstIP, p.proto
}

// Transport implements flow.Event.
func (p *Packet) Transport() (src, dst uint16) {
	return p.srcPort, p.dstPort
}

// VLAN implements flow.Event.
func (p *Packet) VLAN() uint16 { return p.vlan }

// Payload implements flow.Event.
func (p *Packet) Payload() []byte { return p.payload }

// TCPFlags implements flow.Event.
func (p *Packet) TCPFlags() (flow.TCPFlags, bool) {
	return p.tcpFlags, p.isTCP
}

var packetPool = sync.Pool{
	New: func() interface{} { return new(Packet) },
}

func getPacket() *Packet {
	return packetPool.Get().(*Packet)
}

func (p *Packet) recycle() {
	p.key = ""
	p.payload = nil
	p.srcIP = nil
	p.dstIP = nil
	packetPool.Put(p)
}

// decoder turns raw capture data into Packets. One decoder serves one
// goroutine; the layer structs and the key scratch space are reused across
// packets.
type decoder struct {
	ethParser *gopacket.DecodingLayerParser
	ip4Parser *gopacket.DecodingLayerParser
	ip6Parser *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	decoded []gopacket.LayerType

	scratch [44]byte
}

func newDecoder() *decoder {
	d := &decoder{}
	decoders := []gopacket.DecodingLayer{
		&d.eth, &d.dot1q, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp4, &d.icmp6,
	}
	d.ethParser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, decoders...)
	d.ip4Parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, decoders...)
	d.ip6Parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, decoders...)
	d.ethParser.IgnoreUnsupported = true
	d.ip4Parser.IgnoreUnsupported = true
	d.ip6Parser.IgnoreUnsupported = true
	return d
}

// decode fills pkt from data. A false return means the packet carries no
// usable network layer and must be counted as skipped.
func (d *decoder) decode(lt gopacket.LayerType, data []byte, ci gopacket.CaptureInfo, pkt *Packet) bool {
	parser := d.ethParser
	switch lt {
	case layers.LayerTypeIPv4:
		parser = d.ip4Parser
	case layers.LayerTypeIPv6:
		parser = d.ip6Parser
	case layerTypeIPv46:
		if len(data) == 0 {
			return false
		}
		if data[0]>>4 == 4 {
			parser = d.ip4Parser
		} else {
			parser = d.ip6Parser
		}
	}

	// a decode error with partially decoded layers is fine as long as a
	// network layer survived; the check below handles the rest
	d.decoded = d.decoded[:0]
	if err := parser.DecodeLayers(data, &d.decoded); err != nil && len(d.decoded) == 0 {
		return false
	}

	pkt.ts = flow.DateTimeNanoseconds(ci.Timestamp.UnixNano())
	pkt.linkLen = uint64(ci.Length)
	pkt.netLen, pkt.transLen, pkt.payloadLen = 0, 0, 0
	pkt.vlan = 0
	pkt.srcPort, pkt.dstPort = 0, 0
	pkt.proto = 0
	pkt.isTCP = false
	pkt.tcpFlags = 0
	pkt.payload = nil

	network := false
	for _, typ := range d.decoded {
		switch typ {
		case layers.LayerTypeDot1Q:
			pkt.vlan = d.dot1q.VLANIdentifier
		case layers.LayerTypeIPv4:
			network = true
			pkt.srcIP = append(pkt.srcBuf[:0], d.ip4.SrcIP...)
			pkt.dstIP = append(pkt.dstBuf[:0], d.ip4.DstIP...)
			pkt.proto = uint8(d.ip4.Protocol)
			pkt.netLen = uint64(d.ip4.Length)
			pkt.transLen = pkt.netLen - uint64(d.ip4.IHL)*4
		case layers.LayerTypeIPv6:
			network = true
			pkt.srcIP = append(pkt.srcBuf[:0], d.ip6.SrcIP...)
			pkt.dstIP = append(pkt.dstBuf[:0], d.ip6.DstIP...)
			pkt.proto = uint8(d.ip6.NextHeader)
			pkt.netLen = uint64(d.ip6.Length) + 40
			pkt.transLen = uint64(d.ip6.Length)
		case layers.LayerTypeTCP:
			pkt.isTCP = true
			pkt.srcPort = uint16(d.tcp.SrcPort)
			pkt.dstPort = uint16(d.tcp.DstPort)
			pkt.tcpFlags = tcpFlags(&d.tcp)
			hdr := uint64(d.tcp.DataOffset) * 4
			if pkt.transLen > hdr {
				pkt.payloadLen = pkt.transLen - hdr
			}
			// the TCP layer keeps the bytes past its header regardless
			// of whether a decoder exists for whatever the ports map to
			pkt.setPayload(d.tcp.Payload)
		case layers.LayerTypeUDP:
			pkt.srcPort = uint16(d.udp.SrcPort)
			pkt.dstPort = uint16(d.udp.DstPort)
			if pkt.transLen > 8 {
				pkt.payloadLen = pkt.transLen - 8
			}
			pkt.setPayload(d.udp.Payload)
		}
	}
	if !network {
		return false
	}

	pkt.key, pkt.lowToHigh = d.makeKey(pkt)
	pkt.hash = fnvHash(pkt.key)
	return true
}

func (p *Packet) setPayload(data []byte) {
	if len(data) == 0 {
		return
	}
	p.payload = append(p.payloadBuf[:0], data...)
	p.payloadBuf = p.payload
}

func tcpFlags(tcp *layers.TCP) (f flow.TCPFlags) {
	if tcp.FIN {
		f |= flow.TCPFin
	}
	if tcp.SYN {
		f |= flow.TCPSyn
	}
	if tcp.RST {
		f |= flow.TCPRst
	}
	if tcp.ACK {
		f |= flow.TCPAck
	}
	return
}

// layerTypeIPv46 marks captures holding raw IPv4 or IPv6 packets.
var layerTypeIPv46 = gopacket.RegisterLayerType(1000, gopacket.LayerTypeMetadata{Name: "IPv4 or IPv6"})
