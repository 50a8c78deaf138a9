package meter

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CN-TU/go-meter/flow"
)

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, serializeOpts, ls...))
	return buf.Bytes()
}

func captureInfo(data []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(data),
		Length:        len(data),
	}
}

func ethernetHeader(next layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: next,
	}
}

func TestDecodeUDP(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	payload := make([]byte, 10)
	data := serialize(t, ethernetHeader(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))

	assert.Equal(t, uint64(len(data)), pkt.Bytes(flow.AccountLink))
	assert.Equal(t, uint64(20+8+10), pkt.Bytes(flow.AccountNetwork))
	assert.Equal(t, uint64(8+10), pkt.Bytes(flow.AccountTransport))
	assert.Equal(t, uint64(10), pkt.Bytes(flow.AccountPayload))

	src, dst, proto := pkt.Network()
	assert.Equal(t, "10.0.0.1", src.String())
	assert.Equal(t, "10.0.0.2", dst.String())
	assert.Equal(t, uint8(17), proto)
	sport, dport := pkt.Transport()
	assert.Equal(t, uint16(40000), sport)
	assert.Equal(t, uint16(53), dport)
	assert.Len(t, pkt.Payload(), 10)
	_, isTCP := pkt.TCPFlags()
	assert.False(t, isTCP)
	assert.Equal(t, flow.DateTimeNanoseconds(1700000000)*flow.SecondsInNanoseconds, pkt.Timestamp())
	assert.NotEmpty(t, pkt.Key())
}

func TestDecodeTCPFlags(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true, ACK: true, DataOffset: 5}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ethernetHeader(layers.EthernetTypeIPv4), ip, tcp)

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))

	flags, isTCP := pkt.TCPFlags()
	require.True(t, isTCP)
	assert.Equal(t, flow.TCPSyn|flow.TCPAck, flags)
	assert.Equal(t, uint64(0), pkt.Bytes(flow.AccountPayload))
}

func TestDecodePortMappedPayload(t *testing.T) {
	// ports with a registered application layer (53, 80, ...) must still
	// yield the raw transport payload
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, PSH: true, ACK: true, DataOffset: 5, Seq: 1}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	request := []byte("GET / HTTP/1.1\r\nHost: example.org\r\n\r\n")
	data := serialize(t, ethernetHeader(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(request))

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))

	assert.Equal(t, request, pkt.Payload())
	assert.Equal(t, uint64(len(request)), pkt.Bytes(flow.AccountPayload))
}

func TestDecodeVLAN(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	dot1q := &layers.Dot1Q{VLANIdentifier: 42, Type: layers.EthernetTypeIPv4}
	data := serialize(t, ethernetHeader(layers.EthernetTypeDot1Q), dot1q, ip, udp)

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))
	assert.Equal(t, uint16(42), pkt.VLAN())

	// same endpoints without the tag are a different flow
	untagged := serialize(t, ethernetHeader(layers.EthernetTypeIPv4), ip, udp)
	other := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, untagged, captureInfo(untagged), other))
	assert.NotEqual(t, pkt.Key(), other.Key())
}

func TestDecodeIPv6(t *testing.T) {
	ip := &layers.IPv6{
		Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	payload := make([]byte, 16)
	data := serialize(t, ethernetHeader(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload(payload))

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))

	assert.Equal(t, uint64(40+8+16), pkt.Bytes(flow.AccountNetwork))
	assert.Equal(t, uint64(8+16), pkt.Bytes(flow.AccountTransport))
	assert.Equal(t, uint64(16), pkt.Bytes(flow.AccountPayload))
	src, _, proto := pkt.Network()
	assert.Equal(t, "2001:db8::1", src.String())
	assert.Equal(t, uint8(17), proto)
}

func TestDecodeSkipsNonIP(t *testing.T) {
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: net.HardwareAddr{2, 0, 0, 0, 0, 1}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: net.HardwareAddr{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2},
	}
	data := serialize(t, ethernetHeader(layers.EthernetTypeARP), arp)

	d := newDecoder()
	pkt := new(Packet)
	assert.False(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))
}

func TestDecodeRawIP(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ip, udp)

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layerTypeIPv46, data, captureInfo(data), pkt), "version nibble selects the parser")
	assert.Equal(t, uint64(20+8), pkt.Bytes(flow.AccountNetwork))
}

func TestPacketOwnsItsData(t *testing.T) {
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ethernetHeader(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload([]byte("payload!")))

	d := newDecoder()
	pkt := new(Packet)
	require.True(t, d.decode(layers.LayerTypeEthernet, data, captureInfo(data), pkt))

	src, _, _ := pkt.Network()
	srcBefore := src.String()
	payloadBefore := string(pkt.Payload())
	for i := range data {
		data[i] = 0xff
	}
	src, _, _ = pkt.Network()
	assert.Equal(t, srcBefore, src.String(), "capture buffer reuse must not corrupt the packet")
	assert.Equal(t, payloadBefore, string(pkt.Payload()))
}
