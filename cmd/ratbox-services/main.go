// Command ratbox-services runs the services daemon: load config, build
// every engine/service personality, connect to the configured uplink,
// and serve until an interrupt or terminate signal arrives. Shape
// mirrors the teacher's irc/ircd/main.go (flag-parsed config path,
// goroutine-started server, signal-driven graceful stop).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cycoslave/ratbox-services-sub000/internal/config"
	"github.com/cycoslave/ratbox-services-sub000/internal/daemon"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	httpAddr := flag.String("http", "", "Listen address for the operator-control web status mirror (empty disables it)")
	metricsAddr := flag.String("metrics", "", "Listen address for the Prometheus metrics endpoint (empty disables it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	uplink, err := firstAutoConnect(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("initialize daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx, uplink, *httpAddr, *metricsAddr)
	}()

	fmt.Printf("ratbox-services connecting to %s as %s\n", uplink.Name, cfg.ServerInfo.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("daemon exited: %v", err)
		}
	}
}

// firstAutoConnect picks the first `connect { autoconn = true }` block,
// the same single-uplink assumption internal/link.Engine makes (spec
// §1 Non-goals: "it does not attempt multi-peer federation").
func firstAutoConnect(cfg *config.Config) (config.Connect, error) {
	for _, c := range cfg.Connects {
		if c.AutoConn {
			return c, nil
		}
	}
	if len(cfg.Connects) > 0 {
		return cfg.Connects[0], nil
	}
	return config.Connect{}, fmt.Errorf("ratbox-services: no connect{} block configured")
}
