package classify

import (
	"bytes"

	"github.com/CN-TU/go-meter/flow"
)

// wellKnown maps transport ports to protocol labels. Port hits are a weak
// signal, payload signatures override them.
var wellKnown = map[uint16]string{
	20:    "ftp",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	67:    "dhcp",
	68:    "dhcp",
	80:    "http",
	110:   "pop3",
	123:   "ntp",
	143:   "imap",
	161:   "snmp",
	162:   "snmp",
	443:   "tls",
	587:   "smtp",
	853:   "dns",
	993:   "imap",
	995:   "pop3",
	3306:  "mysql",
	5060:  "sip",
	5061:  "sip",
	5432:  "postgresql",
	6379:  "redis",
	8080:  "http",
	8443:  "tls",
	27017: "mongodb",
}

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("HEAD "),
	[]byte("DELETE "),
	[]byte("OPTIONS "),
	[]byte("CONNECT "),
	[]byte("HTTP/1."),
}

// PortClassifier labels flows from well-known ports and a few strong
// payload signatures. It stands in for a full dissection engine and shows
// the adapter contract; production deployments plug their own Classifier.
type PortClassifier struct{}

// NewPortClassifier returns a stateless port/payload classifier.
func NewPortClassifier() *PortClassifier { return &PortClassifier{} }

// Name implements Classifier.
func (c *PortClassifier) Name() string { return "ports" }

// Classify implements Classifier.
func (c *PortClassifier) Classify(ev flow.Event, r *flow.Record) Classification {
	if app, ok := c.fromPayload(ev); ok {
		return Classification{App: app, Confidence: 1, Final: true}
	}
	src, dst := ev.Transport()
	if app, ok := wellKnown[dst]; ok {
		return Classification{App: app, Confidence: 0.5}
	}
	if app, ok := wellKnown[src]; ok {
		return Classification{App: app, Confidence: 0.5}
	}
	return Classification{}
}

func (c *PortClassifier) fromPayload(ev flow.Event) (string, bool) {
	payload := ev.Payload()
	if len(payload) < 4 {
		return "", false
	}
	// tls: handshake record, version 3.x
	if payload[0] == 0x16 && payload[1] == 0x03 && payload[2] <= 0x04 {
		return "tls", true
	}
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, m) {
			return "http", true
		}
	}
	// ssh banner
	if bytes.HasPrefix(payload, []byte("SSH-")) {
		return "ssh", true
	}
	return "", false
}
