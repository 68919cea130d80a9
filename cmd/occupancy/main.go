package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/geo/r2"
	"github.com/joho/godotenv"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/version"
)

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Site config JSON file")
	envFile       = flag.String("env-file", ".env", "Optional dotenv file with OTEL_* settings")
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	dbPathFlag    = flag.String("db-path", "", "SQLite history file (overrides config)")
	disableSerial = flag.Bool("disable-serial", false, "Do not open the sensor-node serial port")
	mockSerial    = flag.String("mock-serial", "", "Replay node lines from this file instead of opening the serial port")
	printReadings = flag.Bool("print-readings", false, "Write one JSON telemetry line per reading to stdout")
	fromX         = flag.Float64("x", 0, "Your x coordinate for the lots listing")
	fromY         = flag.Float64("y", 0, "Your y coordinate for the lots listing")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: occupancy [flags] [serve|lots|migrate <command>]\n\n")
	fmt.Fprintf(out, "Modes:\n")
	fmt.Fprintf(out, "  serve    run sensors, serial ingest and the HTTP API (default)\n")
	fmt.Fprintf(out, "  lots     print lots nearest to -x/-y and exit\n")
	fmt.Fprintf(out, "  migrate  manage the history database schema\n\n")
	fmt.Fprintf(out, "Flags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("occupancy %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadSiteConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg)

	mode, args := "serve", flag.Args()
	if len(args) > 0 {
		mode, args = args[0], args[1:]
	}

	switch mode {
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, cfg); err != nil {
			log.Fatalf("serve: %v", err)
		}
	case "lots":
		if err := listLots(os.Stdout, cfg, r2.Point{X: *fromX, Y: *fromY}); err != nil {
			log.Fatalf("lots: %v", err)
		}
	case "migrate":
		if err := db.RunMigrateCommand(args, cfg.GetDBPath(), os.Stdout); err != nil {
			if errors.Is(err, db.ErrUsage) {
				os.Exit(2)
			}
			log.Fatalf("migrate: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n\n", mode)
		usage()
		os.Exit(2)
	}
}

// applyFlagOverrides lets -listen and -db-path win over the config file.
func applyFlagOverrides(cfg *config.SiteConfig) {
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
}
