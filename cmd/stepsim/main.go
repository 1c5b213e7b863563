// stepsim runs a motion script through the step engine on a simulated
// timer and reports what every driver did.
//
// Usage:
//
//	stepsim -config printer.cfg -script moves.yaml [options]
//
// Options:
//
//	-config string   INI file with a [stepper] section (required)
//	-script string   YAML motion script (required)
//	-json            Print the report as JSON
//	-metrics string  Serve Prometheus metrics on this address
//	-monitor string  Serve the JSON-RPC/websocket monitor on this address
//	-hold            Keep the servers up after the run until interrupted
//
// Examples:
//
//	# Home X and print a square
//	stepsim -config testdata/printer.cfg -script testdata/home.yaml
//
//	# Watch the run from a websocket client
//	stepsim -config printer.cfg -script moves.yaml -monitor :7125 -hold
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stepcore/pkg/log"
	"stepcore/pkg/metrics"
	"stepcore/pkg/monitor"
)

func main() {
	configFile := flag.String("config", "", "INI file with a [stepper] section (required)")
	scriptFile := flag.String("script", "", "YAML motion script (required)")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	monitorAddr := flag.String("monitor", "", "Serve the JSON-RPC/websocket monitor on this address")
	hold := flag.Bool("hold", false, "Keep the servers up after the run until interrupted")
	flag.Parse()

	if *configFile == "" || *scriptFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config and -script are required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.GetLogger("stepsim")
	sim, err := newSimulation(*configFile, *scriptFile, logger)
	if err != nil {
		logger.WithError(err).Error("setup failed")
		os.Exit(1)
	}

	var servers []func()
	if *metricsAddr != "" {
		ms := metrics.NewMetricsServer(sim.metrics, *metricsAddr)
		ms.Refresh = sim.record
		errc := ms.StartAsync()
		go func() {
			if err := <-errc; err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		servers = append(servers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ms.Shutdown(ctx)
		})
	}
	if *monitorAddr != "" {
		mon := monitor.New(monitor.Config{Addr: *monitorAddr, Engine: sim.engine, Logger: logger.WithPrefix("monitor")})
		go func() {
			if err := mon.Start(); err != nil {
				logger.WithError(err).Error("monitor failed")
			}
		}()
		servers = append(servers, func() { mon.Stop() })
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := sim.run(ctx)
	if err != nil {
		logger.WithError(err).Error("run failed")
	}
	if report != nil {
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(report)
		} else {
			report.Write(os.Stdout)
		}
	}

	if *hold && len(servers) > 0 {
		logger.Info("run finished, serving until interrupted")
		<-ctx.Done()
	}
	for _, shutdown := range servers {
		shutdown()
	}
	if err != nil {
		os.Exit(1)
	}
}
