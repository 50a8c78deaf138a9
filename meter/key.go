package meter

import "bytes"

/* key schedule:
[proto] [vlan] [lower ip] [higher ip] [lower port] [higher port]

Endpoints are ordered lexicographically by (ip, port), so both directions of
a connection produce the same key. lowToHigh records whether the packet
itself travels towards the higher endpoint.
*/

// makeKey packs the direction-invariant flow key into the decoder's scratch
// space and returns it together with the packet's orientation.
func (d *decoder) makeKey(pkt *Packet) (key string, lowToHigh bool) {
	i := 0
	d.scratch[i] = pkt.proto
	i++
	d.scratch[i] = byte(pkt.vlan >> 8)
	d.scratch[i+1] = byte(pkt.vlan)
	i += 2

	lowToHigh = true
	switch res := bytes.Compare(pkt.srcIP, pkt.dstIP); {
	case res > 0:
		lowToHigh = false
	case res == 0:
		lowToHigh = pkt.srcPort <= pkt.dstPort
	}

	sp, dp := pkt.srcPort, pkt.dstPort
	a, b := pkt.srcIP, pkt.dstIP
	if !lowToHigh {
		a, b = b, a
		sp, dp = dp, sp
	}
	i += copy(d.scratch[i:], a)
	i += copy(d.scratch[i:], b)
	d.scratch[i] = byte(sp >> 8)
	d.scratch[i+1] = byte(sp)
	d.scratch[i+2] = byte(dp >> 8)
	d.scratch[i+3] = byte(dp)
	i += 4

	return string(d.scratch[:i]), lowToHigh
}

const fnvBasis = 14695981039346656037
const fnvPrime = 1099511628211

func fnvHash(s string) (h uint64) {
	h = fnvBasis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return
}
