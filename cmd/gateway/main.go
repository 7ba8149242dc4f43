package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/gateway"
	"github.com/northbeam/gateway/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	zapLogger, closer, err := logging.New(logging.Config(cfg.Logging))
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	logging.SetGlobal(zapLogger)
	if closer != nil {
		defer closer.Close()
	}

	log.Printf("starting gateway %s", version)
	log.Printf("configuration loaded from %s", *configPath)
	log.Printf("services configured: %d", len(cfg.Routing.Services))

	server, err := gateway.NewServer(cfg, *configPath)
	if err != nil {
		log.Fatalf("failed to create gateway: %v", err)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
