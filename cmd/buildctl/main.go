// Command buildctl runs a single-machine build controller: it loads a
// machine configuration, attaches a driver, records build history and
// serves metrics until signalled to stop.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildctl/pkg/config"
	"buildctl/pkg/controller"
	"buildctl/pkg/driver"
	"buildctl/pkg/driver/drivertest"
	"buildctl/pkg/events"
	"buildctl/pkg/events/eventlog"
	"buildctl/pkg/logx"
	"buildctl/pkg/metrics"
	"buildctl/pkg/persistence"
	"buildctl/pkg/prompt"
)

const shutdownGrace = 10 * time.Second

func main() {
	var configPath string
	var logDir string
	var dbPath string
	var metricsAddr string
	flag.StringVar(&configPath, "config", "", "Path to machine configuration file (YAML)")
	flag.StringVar(&logDir, "logdir", "logs", "Directory for the JSONL event log")
	flag.StringVar(&dbPath, "db", "buildctl.db", "Path to the build-history SQLite database")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve Prometheus metrics on")
	flag.Parse()

	if configPath == "" {
		log.Fatal("buildctl: -config is required")
	}

	logger := logx.NewLogger("buildctl")

	mc, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("buildctl: loading config: %v", err)
	}

	if err := persistence.Initialize(dbPath); err != nil {
		log.Fatalf("buildctl: initializing database: %v", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Error("closing database: %v", err)
		}
	}()

	eventWriter, err := eventlog.NewWriter(logDir)
	if err != nil {
		log.Fatalf("buildctl: creating event log: %v", err)
	}
	defer func() {
		if err := eventWriter.Close(); err != nil {
			logger.Error("closing event log: %v", err)
		}
	}()

	reg := metrics.NewRegistry(mc.Name)
	metricsListener := metrics.NewListener(reg)

	ctrl, err := controller.New(controller.Config{
		Name:             mc.Name,
		DriverFactory:    fakeDriverFactory(mc.Name),
		SimulatorFactory: fakeSimulatorFactory(mc.Name),
		DriverConfig:     mc.Driver,
		Warmup:           mc.WarmupLines(),
		Cooldown:         mc.CooldownLines(),
		Preferences:      mc.ToControllerPreferences(),
		Retry:            mc.Preferences.RetryPolicy.ToPolicy(),
		Prompt:           prompt.NewAuto(logger),
		Metrics:          reg,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("buildctl: creating controller: %v", err)
	}

	ctrl.AddMachineStateListener(eventWriter)
	ctrl.AddMachineStateListener(metricsListener)
	ctrl.AddMachineStateListener(events.ListenerFunc(func(ev events.Event) {
		if ev.Kind != events.KindStateChange {
			return
		}
		logger.Info("machine state: %s -> %s", ev.StateChange.Prev.Phase, ev.StateChange.Current.Phase)
	}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.Info("serving metrics on %s/metrics", metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server: %v", err)
		}
	}()

	ctrl.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown: %v", err)
	}
	if err := ctrl.Dispose(shutdownCtx); err != nil {
		logger.Error("controller dispose: %v", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// fakeDriverFactory builds an in-memory driver.Core. No real hardware
// transport is wired up here: an embedder linking buildctl against actual
// serial/USB hardware supplies its own controller.DriverFactory and calls
// controller.New directly instead of going through this binary.
func fakeDriverFactory(name string) controller.DriverFactory {
	return func(cfg map[string]any) (driver.Core, error) {
		d := drivertest.New(name)
		d.SetMachineConfig(cfg)
		return d, nil
	}
}

func fakeSimulatorFactory(name string) controller.DriverFactory {
	return func(cfg map[string]any) (driver.Core, error) {
		d := drivertest.New(name + "-simulator")
		d.SetMachineConfig(cfg)
		return d, nil
	}
}
