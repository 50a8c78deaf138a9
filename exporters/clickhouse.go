package exporters

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    SrcIP          String,
    SrcPort        UInt16,
    DstIP          String,
    DstPort        UInt16,
    Protocol       UInt8,
    VlanID         UInt16,
    FirstSeen      DateTime64(9),
    LastSeen       DateTime64(9),
    Packets        UInt64,
    Bytes          UInt64,
    Src2DstPackets UInt64,
    Src2DstBytes   UInt64,
    Dst2SrcPackets UInt64,
    Dst2SrcBytes   UInt64,
    App            String,
    EndReason      UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(FirstSeen)
ORDER BY (FirstSeen, SrcIP, DstIP);
`

const batchSize = 1000

type clickhouseExporter struct {
	id         string
	addr       string
	database   string
	conn       driver.Conn
	exportlist chan *flow.Record
	finished   chan struct{}
}

// NewClickHouseExporter inserts records into the flow_records table,
// batched for throughput.
func NewClickHouseExporter(addr, database string) Exporter {
	return &clickhouseExporter{
		id:       fmt.Sprintf("clickhouse|%s|%s", addr, database),
		addr:     addr,
		database: database,
	}
}

func (pe *clickhouseExporter) ID() string {
	return pe.id
}

func (pe *clickhouseExporter) Init() error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{pe.addr},
		Auth: clickhouse.Auth{Database: pe.database},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return fmt.Errorf("clickhouse: couldn't open %s: %w", pe.addr, err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse: couldn't reach %s: %w", pe.addr, err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		return fmt.Errorf("clickhouse: couldn't create table: %w", err)
	}
	pe.conn = conn
	pe.exportlist = make(chan *flow.Record, 100)
	pe.finished = make(chan struct{})
	go func() {
		defer close(pe.finished)
		pending := make([]*flow.Record, 0, batchSize)
		for r := range pe.exportlist {
			pending = append(pending, r)
			if len(pending) >= batchSize {
				pe.insert(pending)
				pending = pending[:0]
			}
		}
		if len(pending) > 0 {
			pe.insert(pending)
		}
		pe.conn.Close()
	}()
	return nil
}

func (pe *clickhouseExporter) insert(records []*flow.Record) {
	ctx := context.Background()
	batch, err := pe.conn.PrepareBatch(ctx, "INSERT INTO flow_records")
	if err != nil {
		util.LogError("clickhouse exporter failed to prepare batch", "error", err)
		return
	}
	for _, r := range records {
		err := batch.Append(
			r.SrcIP.String(), r.SrcPort,
			r.DstIP.String(), r.DstPort,
			r.Proto, r.VLAN,
			time.Unix(0, int64(r.First)), time.Unix(0, int64(r.Last)),
			r.Packets(), r.Bytes(),
			r.Counters[flow.DirForward].Packets, r.Counters[flow.DirForward].Bytes,
			r.Counters[flow.DirBackward].Packets, r.Counters[flow.DirBackward].Bytes,
			r.AppLabel(), uint8(r.EndReason),
		)
		if err != nil {
			util.LogError("clickhouse exporter failed to append record", "error", err)
		}
	}
	if err := batch.Send(); err != nil {
		util.LogError("clickhouse exporter failed to send batch", "error", err)
	}
}

// Export exports a single flow record.
func (pe *clickhouseExporter) Export(r *flow.Record) {
	pe.exportlist <- r
}

// Finish writes outstanding data and waits for completion.
func (pe *clickhouseExporter) Finish() {
	close(pe.exportlist)
	<-pe.finished
}

func newClickHouseExporter(args []string) ([]string, util.Module, error) {
	if len(args) < 2 {
		return args, nil, fmt.Errorf("clickhouse exporter needs address and database as arguments")
	}
	return args[2:], NewClickHouseExporter(args[0], args[1]), nil
}

func clickhousehelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter inserts the records into the flow_records clickhouse table,
creating it if necessary.

Usage:
  export %s localhost:9000 default
`, name, name)
}

func init() {
	util.RegisterModule("export", "clickhouse", "Exports flows to clickhouse.", newClickHouseExporter, clickhousehelp)
}
