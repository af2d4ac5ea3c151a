// Command mcpd runs the instance orchestration engine as a daemon.
//
// It loads a YAML configuration file, pre-creates the instances listed in
// it, and supervises them until interrupted. The caller-facing transport
// (HTTP, SSE) is a separate collaborator; mcpd only hosts the engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	orchestrator "github.com/wagiedev/mcp-orchestrator-go"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "mcpd.yaml", "path to the daemon configuration file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	file, err := orchestrator.LoadConfigFile(*configPath)
	if err != nil {
		return err
	}

	sink := orchestrator.NopSink()

	if file.StorePath != "" {
		sink, err = orchestrator.OpenSQLiteStore(file.StorePath)
		if err != nil {
			return err
		}
		defer sink.Close()
	}

	reg := orchestrator.New(
		orchestrator.WithLogger(log),
		orchestrator.WithStore(sink),
		orchestrator.WithMaxInstancesPerTenant(file.MaxInstancesPerTenant),
		orchestrator.WithEventRingCapacity(file.EventRingCapacity),
		orchestrator.WithCallTimeout(time.Duration(file.CallTimeoutSeconds)*time.Second),
		orchestrator.WithHandshakeTimeout(time.Duration(file.HandshakeTimeoutSeconds)*time.Second),
		orchestrator.WithStopGracePeriod(time.Duration(file.StopGraceSeconds)*time.Second),
		orchestrator.WithHeartbeatInterval(time.Duration(file.HeartbeatSeconds)*time.Second),
		orchestrator.WithWatchdogInterval(time.Duration(file.WatchdogSeconds)*time.Second),
	)

	ctx := context.Background()

	for _, inst := range file.Instances {
		id, err := reg.Create(ctx, inst.Tenant, inst.InstanceConfig())
		if err != nil {
			log.Error("Failed to create instance",
				"tenant", inst.Tenant, "command", inst.Command, "error", err)

			continue
		}

		log.Info("Instance created", "instance_id", id, "tenant", inst.Tenant)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	sig := <-stop
	log.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return reg.Close(shutdownCtx)
}
