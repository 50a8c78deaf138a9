package exporters

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

// Anonymizer replaces the addressing fields of emitted records with keyed
// pseudonyms. The transform is deterministic per key, so one address maps
// to the same pseudonym across a run, and it never touches in-flight flow
// state: the wrapped exporter receives a copy.
type Anonymizer struct {
	key   []byte
	inner Exporter
}

// NewAnonymizer wraps inner. key is the secret of the keyed transform; an
// empty key is rejected, accidental unkeyed anonymization helps nobody.
func NewAnonymizer(key []byte, inner Exporter) (*Anonymizer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("anon: key must not be empty")
	}
	if len(key) > 64 {
		return nil, fmt.Errorf("anon: key must be at most 64 bytes")
	}
	return &Anonymizer{key: key, inner: inner}, nil
}

// ID implements Exporter.
func (a *Anonymizer) ID() string {
	return "anon|" + a.inner.ID()
}

// Init implements Exporter.
func (a *Anonymizer) Init() error {
	return a.inner.Init()
}

// Export hands a copy of r with pseudonymized addresses to the wrapped
// exporter.
func (a *Anonymizer) Export(r *flow.Record) {
	anon := *r
	anon.SrcIP = a.pseudonym(r.SrcIP)
	anon.DstIP = a.pseudonym(r.DstIP)
	a.inner.Export(&anon)
}

// Finish implements Exporter.
func (a *Anonymizer) Finish() {
	a.inner.Finish()
}

func (a *Anonymizer) pseudonym(ip net.IP) net.IP {
	h, err := blake2b.New(len(ip), a.key)
	if err != nil {
		// key length was validated at construction
		panic(err)
	}
	h.Write(ip)
	return net.IP(h.Sum(nil))
}

func newAnonymizer(args []string) ([]string, util.Module, error) {
	if len(args) < 2 {
		return args, nil, fmt.Errorf("anon exporter needs a hex key and an inner exporter")
	}
	key, err := hex.DecodeString(args[0])
	if err != nil {
		return args, nil, fmt.Errorf("anon exporter key must be hex: %w", err)
	}
	left, inner, err := util.CreateModule("export", args[1], args[2:])
	if err != nil {
		return args, nil, err
	}
	exporter, ok := inner.(Exporter)
	if !ok {
		return args, nil, fmt.Errorf("anon exporter can only wrap exporters")
	}
	ret, err := NewAnonymizer(key, exporter)
	if err != nil {
		return args, nil, err
	}
	return left, ret, nil
}

func anonhelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter wraps another exporter and replaces source and destination
addresses of every emitted record with keyed pseudonyms of the same length.

Usage:
  export %s deadbeef csv file.csv
`, name, name)
}

func init() {
	util.RegisterModule("export", "anon", "Anonymizes records before another exporter.", newAnonymizer, anonhelp)
}
