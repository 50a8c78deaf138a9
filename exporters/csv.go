package exporters

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

type csvExporter struct {
	outfile    string
	exportlist chan []string
	finished   chan struct{}
}

// NewCSVExporter writes one record per line to outfile, "-" for stdout.
func NewCSVExporter(outfile string) Exporter {
	return &csvExporter{outfile: outfile}
}

func (pe *csvExporter) ID() string {
	return "csv|" + pe.outfile
}

func (pe *csvExporter) Init() error {
	pe.exportlist = make(chan []string, 100)
	pe.finished = make(chan struct{})
	var outfile io.WriteCloser
	if pe.outfile == "-" {
		outfile = os.Stdout
	} else {
		var err error
		outfile, err = os.Create(pe.outfile)
		if err != nil {
			return fmt.Errorf("csv: couldn't open %s: %w", pe.outfile, err)
		}
	}
	writer := csv.NewWriter(outfile)
	go func() {
		defer close(pe.finished)
		writer.Write(fieldNames)
		for line := range pe.exportlist {
			writer.Write(line)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			util.LogError("csv exporter flush failed", "file", pe.outfile, "error", err)
		}
		if pe.outfile != "-" {
			outfile.Close()
		}
	}()
	return nil
}

// Export exports a single flow record.
func (pe *csvExporter) Export(r *flow.Record) {
	pe.exportlist <- fieldValues(r)
}

// Finish writes outstanding data and waits for completion.
func (pe *csvExporter) Finish() {
	close(pe.exportlist)
	<-pe.finished
}

func newCSVExporter(args []string) ([]string, util.Module, error) {
	if len(args) == 0 {
		return args, nil, fmt.Errorf("csv exporter needs a filename as argument")
	}
	return args[1:], NewCSVExporter(args[0]), nil
}

func csvhelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter writes the records to a csv file with a flow per line and a
header consisting of the field names.

Usage:
  export %s file.csv
`, name, name)
}

func init() {
	util.RegisterModule("export", "csv", "Exports flows to a csv file.", newCSVExporter, csvhelp)
}
