package main

import (
	"flag"
	"fmt"
	"os"

	"BarHarvest/internal/di"
	"BarHarvest/pkg/config"
)

func main() {
	path := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "barharvest:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return app.Run()
}
