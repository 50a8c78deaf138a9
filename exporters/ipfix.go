package exporters

import (
	"fmt"
	"io"
	"os"

	ipfix "github.com/CN-TU/go-ipfix"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

type ipfixExporter struct {
	id         string
	outfile    string
	exportlist chan *flow.Record
	finished   chan struct{}
}

// NewIPFIXExporter writes records as ipfix messages to outfile, "-" for
// stdout.
func NewIPFIXExporter(outfile string) Exporter {
	ipfix.LoadIANASpec()
	return &ipfixExporter{id: "ipfix|" + outfile, outfile: outfile}
}

func (pe *ipfixExporter) ID() string {
	return pe.id
}

var ipfixFieldsCommon = []string{
	"protocolIdentifier",
	"sourceTransportPort",
	"destinationTransportPort",
	"vlanId",
	"flowStartNanoseconds",
	"flowEndNanoseconds",
	"packetDeltaCount",
	"octetDeltaCount",
	"flowEndReason",
}

func ipfixTemplate(v6 bool) []ipfix.InformationElement {
	var names []string
	if v6 {
		names = append(names, "sourceIPv6Address", "destinationIPv6Address")
	} else {
		names = append(names, "sourceIPv4Address", "destinationIPv4Address")
	}
	names = append(names, ipfixFieldsCommon...)
	ies := make([]ipfix.InformationElement, len(names))
	for i, name := range names {
		ies[i] = ipfix.GetInformationElement(name)
	}
	return ies
}

func (pe *ipfixExporter) Init() error {
	pe.exportlist = make(chan *flow.Record, 100)
	pe.finished = make(chan struct{})
	var outfile io.WriteCloser
	if pe.outfile == "-" {
		outfile = os.Stdout
	} else {
		var err error
		outfile, err = os.Create(pe.outfile)
		if err != nil {
			return fmt.Errorf("ipfix: couldn't open %s: %w", pe.outfile, err)
		}
	}
	writer, err := ipfix.MakeMessageStream(outfile, 65535, 0)
	if err != nil {
		if pe.outfile != "-" {
			outfile.Close()
		}
		return fmt.Errorf("ipfix: %w", err)
	}
	go func() {
		defer close(pe.finished)
		// template ids per address family, allocated lazily
		templates := [2]int{}
		var now ipfix.DateTimeNanoseconds
		for r := range pe.exportlist {
			now = ipfix.DateTimeNanoseconds(r.Last)
			v6 := r.SrcIP.To4() == nil
			idx := 0
			if v6 {
				idx = 1
			}
			if templates[idx] == 0 {
				template, err := writer.AddTemplate(now, ipfixTemplate(v6)...)
				if err != nil {
					util.LogError("ipfix template failed", "error", err)
					continue
				}
				templates[idx] = template
			}
			writer.SendData(now, templates[idx],
				r.SrcIP, r.DstIP,
				r.Proto, r.SrcPort, r.DstPort, r.VLAN,
				ipfix.DateTimeNanoseconds(r.First), ipfix.DateTimeNanoseconds(r.Last),
				r.Packets(), r.Bytes(),
				uint8(r.EndReason))
		}
		writer.Flush(now)
		if pe.outfile != "-" {
			outfile.Close()
		}
	}()
	return nil
}

// Export exports a single flow record.
func (pe *ipfixExporter) Export(r *flow.Record) {
	pe.exportlist <- r
}

// Finish writes outstanding data and waits for completion.
func (pe *ipfixExporter) Finish() {
	close(pe.exportlist)
	<-pe.finished
}

func newIPFIXExporter(args []string) ([]string, util.Module, error) {
	if len(args) == 0 {
		return args, nil, fmt.Errorf("ipfix exporter needs a filename as argument")
	}
	return args[1:], NewIPFIXExporter(args[0]), nil
}

func ipfixhelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter writes the records to an ipfix file, with separate templates
for the two address families.

Usage:
  export %s file.ipfix
`, name, name)
}

func init() {
	util.RegisterModule("export", "ipfix", "Exports flows to an ipfix file.", newIPFIXExporter, ipfixhelp)
}
