package meter_test

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/meter"
	"github.com/CN-TU/go-meter/plugin"
)

type rawPacket struct {
	data []byte
	ci   gopacket.CaptureInfo
}

// sliceSource replays pre-built ethernet packets.
type sliceSource struct {
	packets []rawPacket
	next    int
	stopped bool
}

func (s *sliceSource) ID() string  { return "slice" }
func (s *sliceSource) Init() error { return nil }
func (s *sliceSource) Stop()       { s.stopped = true }

func (s *sliceSource) ReadPacket() (gopacket.LayerType, []byte, gopacket.CaptureInfo, error) {
	if s.stopped || s.next >= len(s.packets) {
		return 0, nil, gopacket.CaptureInfo{}, io.EOF
	}
	p := s.packets[s.next]
	s.next++
	return layers.LayerTypeEthernet, p.data, p.ci, nil
}

func udpPacket(t *testing.T, ts time.Time, src, dst net.IP, sport, dport uint16, payloadLen int) rawPacket {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: src, DstIP: dst,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(make([]byte, payloadLen))))
	data := append([]byte(nil), buf.Bytes()...)
	return rawPacket{
		data: data,
		ci:   gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)},
	}
}

// trafficMix interleaves packetsPerFlow packets of flows many distinct udp
// flows, one packet per flow per second.
func trafficMix(t *testing.T, flows, packetsPerFlow int) []rawPacket {
	t.Helper()
	base := time.Unix(1700000000, 0)
	var packets []rawPacket
	for round := 0; round < packetsPerFlow; round++ {
		ts := base.Add(time.Duration(round) * time.Second)
		for f := 0; f < flows; f++ {
			src := net.IP{10, 0, byte(f >> 8), byte(f)}
			sport, dport := uint16(40000+f), uint16(53)
			if round%2 == 1 {
				// reply direction
				packets = append(packets, udpPacket(t, ts, net.IP{10, 9, 9, 9}, src, dport, sport, 100))
				continue
			}
			packets = append(packets, udpPacket(t, ts, src, net.IP{10, 9, 9, 9}, sport, dport, 60))
		}
	}
	return packets
}

func collect(t *testing.T, m *meter.Meter) []*flow.Record {
	t.Helper()
	var records []*flow.Record
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range m.Records() {
			records = append(records, r)
		}
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("record stream never closed")
	}
	return records
}

func TestMeterPipeline(t *testing.T) {
	const flowCount, perFlow = 32, 6
	src := &sliceSource{packets: trafficMix(t, flowCount, perFlow)}

	m, err := meter.New(meter.Config{Workers: 4, MaxDissections: 5})
	require.NoError(t, err)
	require.NoError(t, m.Start(src))

	records := collect(t, m)
	require.NoError(t, m.Wait())

	require.Len(t, records, flowCount, "every flow is emitted exactly once")
	seen := make(map[string]bool, flowCount)
	for _, r := range records {
		assert.False(t, seen[r.Key()], "duplicate flow %x", r.Key())
		seen[r.Key()] = true
		assert.Equal(t, uint64(perFlow), r.Packets())
		assert.Equal(t, uint64(perFlow/2), r.Counters[flow.DirForward].Packets)
		assert.Equal(t, uint64(perFlow/2), r.Counters[flow.DirBackward].Packets)
		assert.Equal(t, flow.FlowEndReasonForcedEnd, r.EndReason)
		assert.Equal(t, flow.StateFlushed, r.State())
		assert.Equal(t, "dns", r.App, "port 53 labels the flow")
	}

	s := m.Summary()
	assert.Equal(t, uint64(flowCount*perFlow), s.Packets)
	assert.Equal(t, uint64(0), s.Skipped)
	assert.Equal(t, uint64(flowCount), s.Flows)
	assert.Equal(t, uint64(flowCount), s.Emitted)
}

func TestMeterAccountingModes(t *testing.T) {
	run := func(mode flow.AccountingMode) []*flow.Record {
		src := &sliceSource{packets: trafficMix(t, 4, 4)}
		m, err := meter.New(meter.Config{Workers: 2, AccountingMode: mode})
		require.NoError(t, err)
		require.NoError(t, m.Start(src))
		records := collect(t, m)
		require.NoError(t, m.Wait())
		return records
	}

	link := run(flow.AccountLink)
	payload := run(flow.AccountPayload)
	require.Len(t, link, 4)
	require.Len(t, payload, 4)

	// boundaries and packet counts are identical, only byte counting differs
	for i := range link {
		assert.Equal(t, link[i].Packets(), payload[i].Packets())
	}
	// 2 forward packets of 60 payload bytes, 2 replies of 100
	for _, r := range payload {
		assert.Equal(t, uint64(2*60+2*100), r.Bytes())
	}
	for _, r := range link {
		assert.Greater(t, r.Bytes(), uint64(2*60+2*100), "link accounting includes the headers")
	}
}

func TestMeterWorkerAffinity(t *testing.T) {
	src := &sliceSource{packets: trafficMix(t, 16, 3)}
	m, err := meter.New(meter.Config{Workers: 8})
	require.NoError(t, err)
	require.NoError(t, m.Start(src))
	records := collect(t, m)
	require.NoError(t, m.Wait())

	// complete per-flow state proves all packets of a flow met one table
	require.Len(t, records, 16)
	for _, r := range records {
		assert.Equal(t, uint64(3), r.Packets())
	}
}

// dyingSource replays its packets and then fails instead of reporting EOF.
type dyingSource struct {
	sliceSource
}

func (s *dyingSource) ID() string { return "dying" }

func (s *dyingSource) ReadPacket() (gopacket.LayerType, []byte, gopacket.CaptureInfo, error) {
	lt, data, ci, err := s.sliceSource.ReadPacket()
	if err == io.EOF {
		return 0, nil, gopacket.CaptureInfo{}, errors.New("capture handle lost")
	}
	return lt, data, ci, err
}

func TestMeterSourceFailureDrains(t *testing.T) {
	src := &dyingSource{sliceSource{packets: trafficMix(t, 8, 3)}}
	m, err := meter.New(meter.Config{Workers: 2})
	require.NoError(t, err)
	require.NoError(t, m.Start(src))
	records := collect(t, m)

	// a mid-run source failure flushes in-flight flows like EOF would
	require.NoError(t, m.Wait())
	require.Len(t, records, 8)
	for _, r := range records {
		assert.Equal(t, flow.FlowEndReasonForcedEnd, r.EndReason)
	}
	assert.Equal(t, uint64(24), m.Summary().Packets)
}

type initFailPlugin struct{}

func (initFailPlugin) Name() string { return "badinit" }
func (initFailPlugin) OnInit(flow.Event, flow.View) error {
	return io.ErrUnexpectedEOF
}
func (initFailPlugin) OnUpdate(flow.Event, flow.View) error { return nil }
func (initFailPlugin) OnExpire(flow.View) error             { return nil }

func TestMeterFailFastAborts(t *testing.T) {
	src := &sliceSource{packets: trafficMix(t, 4, 4)}
	m, err := meter.New(meter.Config{
		Workers:    2,
		Plugins:    []plugin.Plugin{initFailPlugin{}},
		HookPolicy: plugin.PolicyFailFast,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(src))
	collect(t, m)

	err = m.Wait()
	require.Error(t, err)
	var hookErr *plugin.HookError
	assert.ErrorAs(t, err, &hookErr)
}

func TestMeterDegradeKeepsRunning(t *testing.T) {
	src := &sliceSource{packets: trafficMix(t, 4, 4)}
	m, err := meter.New(meter.Config{
		Workers:    2,
		Plugins:    []plugin.Plugin{initFailPlugin{}},
		HookPolicy: plugin.PolicyDegrade,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(src))
	records := collect(t, m)

	require.NoError(t, m.Wait())
	assert.Len(t, records, 4)
	assert.Equal(t, uint64(4), m.Summary().FailedHooks)
}

func TestMeterPrometheusEndToEnd(t *testing.T) {
	src := &sliceSource{packets: trafficMix(t, 4, 3)}
	reg := prometheus.NewRegistry()
	m, err := meter.New(meter.Config{
		Workers:             2,
		Prometheus:          reg,
		PerformanceInterval: time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(src))
	records := collect(t, m)
	require.NoError(t, m.Wait())
	require.Len(t, records, 4)

	families, err := reg.Gather()
	require.NoError(t, err)
	value := func(name string) float64 {
		for _, f := range families {
			if f.GetName() != name {
				continue
			}
			metric := f.GetMetric()[0]
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
		t.Fatalf("metric %s not gathered", name)
		return 0
	}
	assert.Equal(t, 12.0, value("gometer_packets_total"))
	assert.Equal(t, 0.0, value("gometer_skipped_packets_total"))
	assert.Equal(t, 4.0, value("gometer_emitted_flows_total"))
	assert.Equal(t, 0.0, value("gometer_active_flows"))
}

func TestMeterConfigErrors(t *testing.T) {
	_, err := meter.New(meter.Config{Workers: -1})
	assert.Error(t, err)
	_, err = meter.New(meter.Config{MaxDissections: -1})
	assert.Error(t, err)
	_, err = meter.New(meter.Config{IdleTimeout: -time.Second})
	assert.Error(t, err)
}
