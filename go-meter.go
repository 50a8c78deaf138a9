// go-meter converts packet captures into bidirectional flow records with
// statistical and protocol identification features.
package main

import (
	"fmt"
	"os"
	"sort"
)

type command struct {
	desc string
	run  func(string, []string)
}

var commands = make(map[string]command)

func addCommand(name, desc string, run func(string, []string)) {
	commands[name] = command{desc: desc, run: run}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s command [args]\n\nCommands:\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].desc)
	}
	os.Exit(-1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %s\n\n", os.Args[1])
		usage()
	}
	cmd.run(os.Args[1], os.Args[2:])
}
