package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CN-TU/go-meter/exporters"
	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/meter"
	"github.com/CN-TU/go-meter/plugin"
	"github.com/CN-TU/go-meter/util"
)

func init() {
	addCommand("run", "Extract flows from a packet source", runCommand)
}

func runUsage(set *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Usage:
  %s run [args] export type [exportargs] [export ...] source type [sourceargs]

Parses the packets from the source and exports the resulting flow records
to the specified exporters. At least one exporter and one source are
needed.

Examples:
  Meter example.pcap into example.csv
    %s run export csv example.csv source pcap example.pcap

  Meter a live interface into kafka, with performance snapshots
    %s run -perf 10s export kafka broker:9092 flows source live eth0

Args:
`, os.Args[0], os.Args[0], os.Args[0])
	set.PrintDefaults()
}

func runCommand(cmd string, args []string) {
	set := flag.NewFlagSet(cmd, flag.ExitOnError)
	set.Usage = func() { runUsage(set) }

	activeTimeout := set.Duration("active", meter.DefaultActiveTimeout, "active timeout")
	idleTimeout := set.Duration("idle", meter.DefaultIdleTimeout, "idle timeout")
	dissections := set.Int("dissections", meter.DefaultMaxDissections, "max dissected packets per flow (0 disables)")
	mode := set.String("mode", "link", "byte accounting mode (link|network|transport|payload)")
	splt := set.Int("splt", 0, "early sequence capacity per flow (0 disables)")
	workers := set.Int("n", 0, "number of parallel metering workers (0: number of cpus)")
	policy := set.String("hookpolicy", "failfast", "plugin failure policy (failfast|degrade)")
	perf := set.Duration("perf", 0, "performance snapshot interval (0 disables)")
	metricsAddr := set.String("metrics", "", "serve prometheus metrics on this address")
	configFile := set.String("config", "", "yaml config file; flags override it")
	debug := set.Bool("debug", false, "enable debug logging")
	set.Parse(args)

	util.InitLogger(*debug)

	var cfg meter.Config
	if *configFile != "" {
		if err := meter.LoadConfig(*configFile, &cfg); err != nil {
			log.Fatalln(err)
		}
	}
	// explicitly given flags win over the config file, flag defaults only
	// apply without one
	explicit := make(map[string]bool)
	set.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	fromFlags := *configFile == ""
	if fromFlags || explicit["active"] {
		cfg.ActiveTimeout = *activeTimeout
	}
	if fromFlags || explicit["idle"] {
		cfg.IdleTimeout = *idleTimeout
	}
	if fromFlags || explicit["dissections"] {
		cfg.MaxDissections = *dissections
	}
	if fromFlags || explicit["splt"] {
		cfg.SPLTCapacity = *splt
	}
	if fromFlags || explicit["n"] {
		cfg.Workers = *workers
	}
	if fromFlags || explicit["perf"] {
		cfg.PerformanceInterval = *perf
	}
	if fromFlags || explicit["mode"] {
		m, ok := flow.ParseAccountingMode(*mode)
		if !ok {
			log.Fatalf("Unknown accounting mode %q\n", *mode)
		}
		cfg.AccountingMode = m
	}
	if fromFlags || explicit["hookpolicy"] {
		p, ok := plugin.ParsePolicy(*policy)
		if !ok {
			log.Fatalf("Unknown hook policy %q\n", *policy)
		}
		cfg.HookPolicy = p
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.Prometheus = reg
		go func() {
			handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
			if err := http.ListenAndServe(*metricsAddr, handler); err != nil {
				util.LogError("metrics endpoint failed", "error", err)
			}
		}()
	}

	exporterList, source := parseModules(set.Args())
	if len(exporterList) == 0 {
		log.Fatalln("At least one exporter is needed. See go-meter run -h.")
	}
	if source == nil {
		log.Fatalln("A source is needed. See go-meter run -h.")
	}

	m, err := meter.New(cfg)
	if err != nil {
		log.Fatalln(err)
	}
	for _, e := range exporterList {
		if err := e.Init(); err != nil {
			log.Fatalln(err)
		}
	}

	cancel := make(chan os.Signal, 1)
	signal.Notify(cancel, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-cancel
		util.LogInfo("stopping run, flushing active flows")
		m.Stop(true)
	}()

	if err := m.Start(source); err != nil {
		log.Fatalln(err)
	}
	start := time.Now()
	for r := range m.Records() {
		for _, e := range exporterList {
			e.Export(r)
		}
	}
	for _, e := range exporterList {
		e.Finish()
	}
	if err := m.Wait(); err != nil {
		log.Fatalln(err)
	}

	summary := m.Summary()
	util.LogInfo("run finished",
		"elapsed", time.Since(start).String(),
		"packets", summary.Packets,
		"skipped_packets", summary.Skipped,
		"flows", summary.Flows,
		"emitted", summary.Emitted,
		"failed_hooks", summary.FailedHooks)
}

// parseModules consumes the "export type [args]" and "source type [args]"
// statements at the end of the command line.
func parseModules(args []string) (exporterList []exporters.Exporter, source meter.Source) {
	for len(args) > 0 {
		switch args[0] {
		case "export":
			if len(args) < 2 {
				log.Fatalln("export needs a type. See the list command.")
			}
			left, mod, err := util.CreateModule("export", args[1], args[2:])
			if err != nil {
				log.Fatalln(err)
			}
			exporterList = append(exporterList, mod.(exporters.Exporter))
			args = left
		case "source":
			if len(args) < 2 {
				log.Fatalln("source needs a type. See the list command.")
			}
			left, mod, err := util.CreateModule("source", args[1], args[2:])
			if err != nil {
				log.Fatalln(err)
			}
			if source != nil {
				log.Fatalln("Only one source per run is supported.")
			}
			source = mod.(meter.Source)
			args = left
		default:
			log.Fatalf("Expected export or source, got %q\n", args[0])
		}
	}
	return
}
