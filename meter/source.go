package meter

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/CN-TU/go-meter/util"
)

// Source is a lazy sequence of raw packets. ReadPacket returns io.EOF when
// the source is exhausted; Stop makes a blocked or future ReadPacket return
// io.EOF as soon as possible.
type Source interface {
	ID() string
	Init() error
	ReadPacket() (lt gopacket.LayerType, data []byte, ci gopacket.CaptureInfo, err error)
	Stop()
}

func linkTypeToLayer(lt layers.LinkType) (gopacket.LayerType, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeRaw, layers.LinkType(12):
		return layerTypeIPv46, nil
	default:
		return 0, fmt.Errorf("meter: unsupported link type %s", lt)
	}
}

// packetReader is satisfied by both of pcapgo's file readers.
type packetReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource reads packets from pcap and pcapng files in order.
type FileSource struct {
	files   []string
	which   int
	file    *os.File
	reader  packetReader
	lt      gopacket.LayerType
	stopped bool
}

// NewFileSource creates a source reading the given pcap files in order.
func NewFileSource(files ...string) *FileSource {
	return &FileSource{files: files}
}

// ID implements Source.
func (s *FileSource) ID() string {
	return fmt.Sprintf("pcap|%v", s.files)
}

// Init implements Source.
func (s *FileSource) Init() error {
	if len(s.files) == 0 {
		return fmt.Errorf("meter: pcap source needs at least one file")
	}
	return s.open()
}

func (s *FileSource) open() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.which >= len(s.files) {
		return io.EOF
	}
	f, err := os.Open(s.files[s.which])
	if err != nil {
		return err
	}
	r, err := openReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("meter: opening %s: %w", s.files[s.which], err)
	}
	lt, err := linkTypeToLayer(r.LinkType())
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.reader = r
	s.lt = lt
	s.which++
	return nil
}

// ngMagic is the byte order independent start of a pcapng section header.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// openReader sniffs the file format and returns the matching reader.
func openReader(f *os.File) (packetReader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if bytes.Equal(magic[:], ngMagic) {
		return pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(f)
}

// ReadPacket implements Source.
func (s *FileSource) ReadPacket() (gopacket.LayerType, []byte, gopacket.CaptureInfo, error) {
	for {
		if s.stopped || s.reader == nil {
			return 0, nil, gopacket.CaptureInfo{}, io.EOF
		}
		data, ci, err := s.reader.ZeroCopyReadPacketData()
		if err == io.EOF {
			if err := s.open(); err != nil {
				return 0, nil, gopacket.CaptureInfo{}, io.EOF
			}
			continue
		}
		return s.lt, data, ci, err
	}
}

// Stop implements Source.
func (s *FileSource) Stop() {
	s.stopped = true
	if s.file != nil {
		s.file.Close()
		s.file = nil
		s.reader = nil
	}
}

// LiveSource captures packets from a network interface.
type LiveSource struct {
	iface   string
	filter  string
	snaplen int
	promisc bool
	handle  *pcap.Handle
	lt      gopacket.LayerType
}

// NewLiveSource creates a live capture source for iface. filter is an
// optional bpf expression, snaplen zero selects a default.
func NewLiveSource(iface, filter string, snaplen int, promisc bool) *LiveSource {
	if snaplen == 0 {
		snaplen = 65535
	}
	return &LiveSource{iface: iface, filter: filter, snaplen: snaplen, promisc: promisc}
}

// ID implements Source.
func (s *LiveSource) ID() string {
	return "live|" + s.iface
}

// Init implements Source.
func (s *LiveSource) Init() error {
	handle, err := pcap.OpenLive(s.iface, int32(s.snaplen), s.promisc, pcap.BlockForever)
	if err != nil {
		return err
	}
	if s.filter != "" {
		if err := handle.SetBPFFilter(s.filter); err != nil {
			handle.Close()
			return err
		}
	}
	lt, err := linkTypeToLayer(handle.LinkType())
	if err != nil {
		handle.Close()
		return err
	}
	s.handle = handle
	s.lt = lt
	return nil
}

// ReadPacket implements Source.
func (s *LiveSource) ReadPacket() (gopacket.LayerType, []byte, gopacket.CaptureInfo, error) {
	for {
		if s.handle == nil {
			return 0, nil, gopacket.CaptureInfo{}, io.EOF
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err == io.EOF || err == pcap.NextErrorNoMorePackets {
			return 0, nil, gopacket.CaptureInfo{}, io.EOF
		}
		return s.lt, data, ci, err
	}
}

// Stop implements Source.
func (s *LiveSource) Stop() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

func newFileSource(args []string) ([]string, util.Module, error) {
	if len(args) == 0 {
		return args, nil, fmt.Errorf("pcap source needs at least one file as argument")
	}
	var files []string
	for len(args) > 0 && args[0] != "source" && args[0] != "export" {
		files = append(files, args[0])
		args = args[1:]
	}
	return args, NewFileSource(files...), nil
}

func fileSourceHelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s source reads packets from one or more pcap or pcapng files in
order.

Usage:
  source %s file.pcap [file2.pcap ...]
`, name, name)
}

func newLiveSource(args []string) ([]string, util.Module, error) {
	if len(args) == 0 {
		return args, nil, fmt.Errorf("live source needs an interface as argument")
	}
	iface := args[0]
	args = args[1:]
	filter := ""
	if len(args) > 0 && args[0] == "filter" {
		if len(args) < 2 {
			return args, nil, fmt.Errorf("live source filter needs an expression")
		}
		filter = args[1]
		args = args[2:]
	}
	return args, NewLiveSource(iface, filter, 0, true), nil
}

func liveSourceHelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s source captures packets from a network interface.

Usage:
  source %s eth0 [filter "bpf expression"]
`, name, name)
}

func init() {
	util.RegisterModule("source", "pcap", "Reads packets from pcap or pcapng files.", newFileSource, fileSourceHelp)
	util.RegisterModule("source", "live", "Captures packets from an interface.", newLiveSource, liveSourceHelp)
}
