package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/robfig/cron/v3"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/discovery"
	"github.com/banshee-data/occupancy.report/internal/lot"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/rangefinder"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/telemetry"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

func serve(ctx context.Context, cfg *config.SiteConfig) error {
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown error: %v", err)
		}
	}()

	var readings io.Writer
	if *printReadings {
		readings = os.Stdout
	}
	clock := timeutil.RealClock{}
	s, err := newSite(cfg, database, tel, clock, readings)
	if err != nil {
		return err
	}
	log.Printf("loaded %d lot(s) from %s", s.registry.Len(), *configPath)

	var wg sync.WaitGroup

	// One poller per spot wired to a local sensor.
	for _, p := range s.pipelines {
		for _, spot := range p.Lot().Spots() {
			if spot.Sensor.Device == "" {
				continue
			}
			lines, err := rangefinder.OpenModemLines(spot.Sensor.Device)
			if err != nil {
				return fmt.Errorf("%s spot %d: %w", p.Lot().Name(), spot.ID, err)
			}
			defer lines.Close()

			sensor := rangefinder.New(lines, lines)
			sensor.Timeout = cfg.GetSensorTimeout()
			poller := &pipeline.Poller{
				Pipeline: p,
				SpotID:   spot.ID,
				Sensor:   sensor,
				Interval: cfg.GetPollInterval(),
				Clock:    clock,
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("poller for %s spot %d stopped: %v", p.Lot().Name(), poller.SpotID, err)
				}
			}()
			log.Printf("polling %s spot %d on %s", p.Lot().Name(), spot.ID, spot.Sensor.Device)
		}
	}

	target, err := s.serialPipeline(cfg)
	if err != nil {
		return err
	}
	serial, err := openSerial(cfg)
	if err != nil {
		return err
	}
	defer serial.Close()

	if target != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			routeSerial(ctx, serial, target, cfg.Serial.DefaultSpot, s.metrics)
			log.Print("serial routine terminated")
		}()
	} else {
		log.Printf("no lot to route serial lines to; serial ingest idle")
	}

	sweeper := newOverstaySweeper(s, clock)
	c := cron.New()
	if _, err := c.AddFunc(cfg.GetOverstaySchedule(), func() { sweeper.Sweep() }); err != nil {
		return fmt.Errorf("invalid overstay schedule: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return fmt.Errorf("failed to attach db admin routes: %w", err)
	}
	serial.AttachAdminRoutes(mux)

	apiServer := api.NewServer(api.Options{
		Registry:  s.registry,
		Drivers:   s.drivers,
		Sessions:  s.sessions,
		Pipelines: s.pipelines,
		Visits:    s.visits,
		History:   database,
		Metrics:   s.metrics,
		Tracer:    tel.Tracer(),
		Clock:     clock,
		Units:     cfg.GetUnits(),
		Timezone:  cfg.GetTimezone(),
	})

	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           apiServer.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
	return nil
}

// openSerial picks the sensor-node source: nothing, a replayed fixture, or
// the configured port.
func openSerial(cfg *config.SiteConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableSerial:
		return serialmux.NewDisabledSerialMux(), nil
	case *mockSerial != "":
		lines, err := readFixture(*mockSerial)
		if err != nil {
			return nil, err
		}
		m, _ := serialmux.NewMockSerialMux(lines, cfg.GetPollInterval())
		log.Printf("replaying %d line(s) from %s", len(lines), *mockSerial)
		return m, nil
	case cfg.Serial.Port == "":
		return serialmux.NewDisabledSerialMux(), nil
	}
	m, err := serialmux.NewRealSerialMux(cfg.Serial.Port, serialmux.PortOptions{
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
	}
	return m, nil
}

// readFixture returns the non-blank lines of path.
func readFixture(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	var lines []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		if line := strings.TrimSpace(scan.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scan.Err()
}

// listLots prints the configured lots nearest to from. Spot state is not
// live here, so every spot shows as unoccupied.
func listLots(w io.Writer, cfg *config.SiteConfig, from r2.Point) error {
	reg := lot.NewRegistry(nil)
	for _, lc := range cfg.Lots {
		if _, err := reg.NewLot(lc); err != nil {
			return fmt.Errorf("failed to create lot %q: %w", lc.Name, err)
		}
	}
	return discovery.WriteListing(w, from, reg.Lots())
}
