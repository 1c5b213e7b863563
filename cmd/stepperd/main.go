// stepperd drives stepper motors from a Linux host: the step interrupt runs
// on a real-time thread against the wall clock and pulses GPIO lines.
//
// Usage:
//
//	stepperd -config machine.cfg [options]
//
// Options:
//
//	-config string   INI file with [stepper], [gpio], [realtime] and [safety] sections (required)
//	-script string   YAML motion script to run once started
//	-monitor string  JSON-RPC/websocket monitor address (default ":7125")
//	-metrics string  Prometheus metrics address (default ":9100")
//	-dry-run         Record pulses in memory instead of driving GPIO
//
// Examples:
//
//	# Run a homing script on the machine
//	stepperd -config /etc/stepcore/machine.cfg -script home.yaml
//
//	# Try a configuration without hardware
//	stepperd -config machine.cfg -dry-run -script moves.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stepcore/pkg/config"
	"stepcore/pkg/log"
	"stepcore/pkg/metrics"
	"stepcore/pkg/monitor"
	"stepcore/pkg/script"
)

func main() {
	configFile := flag.String("config", "", "INI file with [stepper], [gpio], [realtime] and [safety] sections (required)")
	scriptFile := flag.String("script", "", "YAML motion script to run once started")
	monitorAddr := flag.String("monitor", ":7125", "JSON-RPC/websocket monitor address")
	metricsAddr := flag.String("metrics", ":9100", "Prometheus metrics address")
	dryRun := flag.Bool("dry-run", false, "Record pulses in memory instead of driving GPIO")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.GetLogger("stepperd")
	ini, err := config.Load(*configFile)
	if err != nil {
		logger.WithError(err).Error("config")
		os.Exit(1)
	}
	d, err := newDaemon(ini, *dryRun, logger)
	if err != nil {
		logger.WithError(err).Error("setup failed")
		os.Exit(1)
	}

	var sc *script.Script
	if *scriptFile != "" {
		if sc, err = script.Load(*scriptFile); err != nil {
			logger.WithError(err).Error("script")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.start(ctx); err != nil {
		logger.WithError(err).Error("start failed")
		os.Exit(1)
	}

	ms := metrics.NewMetricsServer(d.metrics, *metricsAddr)
	ms.Refresh = d.record
	ms.Ready = d.safety.CheckOperational
	if *metricsAddr != "" {
		errc := ms.StartAsync()
		go func() {
			if err := <-errc; err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}
	mon := monitor.New(monitor.Config{Addr: *monitorAddr, Engine: guarded{d.engine, d.safety}, Logger: logger.WithPrefix("monitor")})
	if *monitorAddr != "" {
		go func() {
			if err := mon.Start(); err != nil {
				logger.WithError(err).Error("monitor failed")
			}
		}()
	}

	logger.WithFields(log.Fields{"monitor": *monitorAddr, "metrics": *metricsAddr, "dry_run": *dryRun}).Info("stepperd ready")
	if sc != nil {
		go func() {
			if _, err := d.runScript(ctx, sc); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("script failed")
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	mon.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ms.Shutdown(shutdownCtx)
	if err := d.shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
		os.Exit(1)
	}
}
