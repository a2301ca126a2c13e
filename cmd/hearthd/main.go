// Command hearthd runs the adaptive tuning supervisor daemon: it consumes
// the controller's sample stream, learns per-zone tuning and serves the
// query/command API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hearthgrid/hearthd/internal/api"
	"github.com/hearthgrid/hearthd/internal/config"
	"github.com/hearthgrid/hearthd/internal/events"
	"github.com/hearthgrid/hearthd/internal/feed"
	"github.com/hearthgrid/hearthd/internal/monitoring"
	"github.com/hearthgrid/hearthd/internal/store"
	"github.com/hearthgrid/hearthd/internal/timeutil"
	"github.com/hearthgrid/hearthd/internal/tuning"
)

var (
	configPath = flag.String("config", "hearthd.json", "Path to the JSON config file")
	devMode    = flag.Bool("dev", false, "Replay samples from fixtures.txt instead of the serial port")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
)

// cycleRecorder fans closed cycles out to the metrics registry and the
// diagnostics store.
type cycleRecorder struct {
	store *store.Store
}

func (r cycleRecorder) RecordCycle(zone string, rec tuning.CycleRecord) {
	monitoring.CyclesClosed.WithLabelValues(zone, string(rec.Interruption)).Inc()
	if r.store != nil {
		r.store.RecordCycle(zone, rec)
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	addr := cfg.GetListen()
	if *listen != "" {
		addr = *listen
	}

	db, err := store.NewStore(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	sinks := events.MultiSink{events.LogSink{}, events.MetricsSink{}}
	if len(cfg.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.KafkaBrokers, cfg.GetKafkaTopic())
		defer ks.Close()
		sinks = append(sinks, ks)
	}

	clock := timeutil.RealClock{}
	maxAge, maxCount := cfg.GetLearningWindow()
	reg := tuning.NewRegistry()
	for _, z := range cfg.Zones {
		heating, err := tuning.ParseHeatingType(z.HeatingType)
		if err != nil {
			log.Fatalf("zone %s: %v", z.ID, err)
		}
		sup := tuning.NewSupervisor(z.ID, heating, z.Baseline(),
			tuning.WithClock(clock),
			tuning.WithSink(sinks),
			tuning.WithRecorder(cycleRecorder{store: db}),
			tuning.WithSnapshotter(db),
			tuning.WithTrackerConfig(cfg.TrackerConfig()),
			tuning.WithLearningWindow(maxAge, maxCount),
			tuning.WithAutoApply(z.GetAutoApply()),
		)
		history, counters, autoCount, err := db.LoadZone(z.ID)
		if err != nil {
			log.Fatalf("zone %s: failed to restore state: %v", z.ID, err)
		}
		if len(history) > 0 {
			sup.Restore(history, counters, autoCount)
			log.Printf("zone %s: restored %d history entries (%d lifetime applies)",
				z.ID, len(history), counters.LifetimeApplies)
		}
		reg.Add(sup)
	}

	var port feed.Port
	if *devMode || cfg.GetSerialPort() == "" {
		data, err := os.Open("fixtures.txt")
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		defer data.Close()
		port = feed.NewMockPort(data)
	} else {
		port, err = feed.NewSerialPort(cfg.GetSerialPort())
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	}
	defer port.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// serial monitor routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := port.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor sample port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// feed dispatch routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		feed.Run(ctx, port, reg, clock)
		log.Print("feed routine terminated")
	}()

	// diagnostics retention routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := db.PruneCycles(clock.Now().Add(-cfg.GetCycleRetention())); err != nil {
					log.Printf("cycle prune failed: %v", err)
				} else if n > 0 {
					log.Printf("pruned %d cycle records", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP server routine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(api.NewServer(reg, db).ServeMux()),
		}

		go func() {
			log.Printf("listening on %s", addr)
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
		}
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
