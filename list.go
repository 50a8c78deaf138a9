package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/CN-TU/go-meter/util"
)

func init() {
	addCommand("list", "List registered sources and exporters", listModules)
}

func listModules(cmd string, args []string) {
	if len(args) == 2 {
		if err := util.GetModuleHelp(args[0], args[1]); err != nil {
			log.Fatalln(err)
		}
		return
	}
	types := util.ModuleTypes()
	if len(args) == 1 {
		types = args[:1]
	}
	for _, typ := range types {
		descs, err := util.GetModules(typ)
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Fprintf(os.Stderr, "List of %s modules:\n\n", typ)
		t := tabwriter.NewWriter(os.Stderr, 3, 4, 5, ' ', 0)
		for _, desc := range descs {
			line := new(bytes.Buffer)
			fmt.Fprintf(line, "%s\t%s\n", desc.Name(), desc.Description())
			t.Write(line.Bytes())
		}
		t.Flush()
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintf(os.Stderr, "To query the options of a module use:\n%s %s <type> <name>\n", os.Args[0], cmd)
}
