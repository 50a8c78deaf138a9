package exporters

import (
	"fmt"
	"os"

	zmq "github.com/pebbe/zmq4"
	"github.com/ugorji/go/codec"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

type zeromqExporter struct {
	id         string
	listen     string
	exportlist chan []byte
	finished   chan struct{}
}

// NewZeroMQExporter pushes msgpack encoded records on a zeromq socket bound
// to listen.
func NewZeroMQExporter(listen string) Exporter {
	return &zeromqExporter{id: "zmq|" + listen, listen: listen}
}

func (pe *zeromqExporter) ID() string {
	return pe.id
}

func (pe *zeromqExporter) Init() error {
	sock, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return fmt.Errorf("zmq: couldn't create socket: %w", err)
	}
	if err := sock.Bind(pe.listen); err != nil {
		return fmt.Errorf("zmq: couldn't bind %s: %w", pe.listen, err)
	}
	pe.exportlist = make(chan []byte, 100)
	pe.finished = make(chan struct{})
	go func() {
		defer close(pe.finished)
		for msg := range pe.exportlist {
			if _, err := sock.SendBytes(msg, 0); err != nil {
				util.LogError("zmq exporter failed to send", "error", err)
			}
		}
		sock.Close()
	}()
	return nil
}

// Export exports a single flow record.
func (pe *zeromqExporter) Export(r *flow.Record) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, &msgpackHandle).Encode(recordMap(r)); err != nil {
		util.LogError("zmq exporter failed to encode record", "error", err)
		return
	}
	pe.exportlist <- out
}

// Finish writes outstanding data and waits for completion.
func (pe *zeromqExporter) Finish() {
	close(pe.exportlist)
	<-pe.finished
}

func newZeroMQExporter(args []string) ([]string, util.Module, error) {
	if len(args) == 0 {
		return args, nil, fmt.Errorf("zmq exporter needs a listen address as argument")
	}
	return args[1:], NewZeroMQExporter(args[0]), nil
}

func zmqhelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter pushes msgpack encoded records on a zeromq socket.

Usage:
  export %s tcp://*:5559
`, name, name)
}

func init() {
	util.RegisterModule("export", "zmq", "Exports flows via zeromq push.", newZeroMQExporter, zmqhelp)
}
