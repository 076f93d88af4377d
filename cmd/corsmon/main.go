package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"

	"github.com/vietrtk/corsmon/internal/app"
	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/pkg/config"
)

const version = "1.2-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "corsmon.yaml", "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("corsmon %s\n", version)
		os.Exit(0)
	}

	// Secrets come from the environment; a .env file is optional.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(*debug, cfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	application := app.New(cfg, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(cfgFile string) (*config.Config, error) {
	filename, _ := filepath.Abs(cfgFile)

	cfg, err := config.NewYAMLProvider(filename).LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
