package exporters

import (
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/ugorji/go/codec"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

type natsExporter struct {
	id      string
	url     string
	subject string
	nc      *nats.Conn
}

// NewNATSExporter publishes records as msgpack maps on a nats subject.
func NewNATSExporter(url, subject string) Exporter {
	return &natsExporter{
		id:      fmt.Sprintf("nats|%s|%s", url, subject),
		url:     url,
		subject: subject,
	}
}

func (pe *natsExporter) ID() string {
	return pe.id
}

func (pe *natsExporter) Init() error {
	nc, err := nats.Connect(pe.url)
	if err != nil {
		return fmt.Errorf("nats: couldn't connect to %s: %w", pe.url, err)
	}
	pe.nc = nc
	return nil
}

// Export exports a single flow record.
func (pe *natsExporter) Export(r *flow.Record) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, &msgpackHandle).Encode(recordMap(r)); err != nil {
		util.LogError("nats exporter failed to encode record", "error", err)
		return
	}
	if err := pe.nc.Publish(pe.subject, out); err != nil {
		util.LogError("nats exporter failed to publish", "error", err)
	}
}

// Finish drains and closes the connection.
func (pe *natsExporter) Finish() {
	if pe.nc != nil {
		pe.nc.Drain()
	}
}

func newNATSExporter(args []string) ([]string, util.Module, error) {
	if len(args) < 2 {
		return args, nil, fmt.Errorf("nats exporter needs url and subject as arguments")
	}
	return args[2:], NewNATSExporter(args[0], args[1]), nil
}

func natshelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter publishes msgpack encoded records on a nats subject.

Usage:
  export %s nats://localhost:4222 flows
`, name, name)
}

func init() {
	util.RegisterModule("export", "nats", "Exports flows to a nats subject.", newNATSExporter, natshelp)
}
