package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"redis/internal/monitor"
	"redis/internal/server"
)

func main() {
	port := flag.Int("port", 26379, "port for the monitor's admin query surface to listen on")
	configPath := flag.String("config", "", "path to a monitor config file (monitor/down-after-milliseconds/... directives)")
	announceIP := flag.String("announce-ip", "127.0.0.1", "IP this monitor advertises to peers in Hello messages")
	tickMillis := flag.Int("tick-ms", 1000, "milliseconds between scheduler ticks")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "monitor: -config is required")
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	f, err := os.Open(*configPath)
	if err != nil {
		log.WithError(err).Fatal("cannot open config file")
	}
	defer f.Close()

	sv := monitor.NewSupervisor(monitor.GlobalConfig{
		AnnounceIP:   *announceIP,
		AnnouncePort: *port,
	})

	if err := sv.LoadConfig(f); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.WithFields(logrus.Fields{
		"run_id":  sv.SelfRunID(),
		"masters": sv.PrimaryNames(),
		"port":    *port,
		"tick_ms": *tickMillis,
	}).Info("starting monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sv.Run(time.Duration(*tickMillis) * time.Millisecond)

	cfg := server.DefaultMonitorConfig()
	cfg.Port = *port
	srv := server.NewMonitorServer(cfg, sv)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutting down monitor")
		srv.Shutdown()
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Fatal("monitor admin server failed")
	}
}
