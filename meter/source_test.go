package meter_test

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CN-TU/go-meter/meter"
)

func writePcap(t *testing.T, path string, packets []rawPacket) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, p := range packets {
		require.NoError(t, w.WritePacket(p.ci, p.data))
	}
}

func writePcapng(t *testing.T, path string, packets []rawPacket) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, p := range packets {
		require.NoError(t, w.WritePacket(p.ci, p.data))
	}
	require.NoError(t, w.Flush())
}

func drain(t *testing.T, src meter.Source) int {
	t.Helper()
	n := 0
	for {
		_, _, _, err := src.ReadPacket()
		if err == io.EOF {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestFileSourceChaining(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1700000000, 0)
	mkpkt := func(i int) rawPacket {
		return udpPacket(t, base.Add(time.Duration(i)*time.Second),
			net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 40000, 53, 10)
	}
	first := filepath.Join(dir, "first.pcap")
	second := filepath.Join(dir, "second.pcap")
	writePcap(t, first, []rawPacket{mkpkt(0), mkpkt(1)})
	writePcap(t, second, []rawPacket{mkpkt(2)})

	src := meter.NewFileSource(first, second)
	require.NoError(t, src.Init())
	assert.Equal(t, 3, drain(t, src), "files are read in order until exhausted")
}

func TestFileSourcePcapng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.pcapng")
	pkt := udpPacket(t, time.Unix(1700000000, 0),
		net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 40000, 53, 10)
	writePcapng(t, path, []rawPacket{pkt, pkt})

	src := meter.NewFileSource(path)
	require.NoError(t, src.Init(), "the format is sniffed from the file magic")
	assert.Equal(t, 2, drain(t, src))
}

func TestFileSourceErrors(t *testing.T) {
	src := meter.NewFileSource()
	assert.Error(t, src.Init())

	src = meter.NewFileSource(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, src.Init())
}

func TestFileSourceStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.pcap")
	pkt := udpPacket(t, time.Unix(1700000000, 0),
		net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 40000, 53, 10)
	writePcap(t, path, []rawPacket{pkt, pkt, pkt})

	src := meter.NewFileSource(path)
	require.NoError(t, src.Init())
	_, _, _, err := src.ReadPacket()
	require.NoError(t, err)
	src.Stop()
	_, _, _, err = src.ReadPacket()
	assert.Equal(t, io.EOF, err)
}
