package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/opencgm/glucose.report/internal/api"
	"github.com/opencgm/glucose.report/internal/config"
	"github.com/opencgm/glucose.report/internal/db"
	"github.com/opencgm/glucose.report/internal/framlink"
	"github.com/opencgm/glucose.report/internal/ingest"
	"github.com/opencgm/glucose.report/internal/libre"
	"github.com/opencgm/glucose.report/internal/libre/remote"
	"github.com/opencgm/glucose.report/internal/units"
	"github.com/opencgm/glucose.report/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS

	devMode     = flag.Bool("dev", false, "Run in dev mode with a mock NFC bridge replaying fixtures.txt")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "glucose.db", "Path to the sqlite database")
	configFile  = flag.String("config", "", "Path to a JSON config file")
	portPath    = flag.String("port", "/dev/ttyACM0", "Serial port of the NFC bridge")
	unitsFlag   = flag.String("units", "", "Display units (mgdl or mmol), overrides config")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("glucose.report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	displayUnits := cfg.GetUnits()
	if *unitsFlag != "" {
		if !units.IsValid(*unitsFlag) {
			log.Fatalf("invalid units %q: expected one of %s", *unitsFlag, units.GetValidUnitsString())
		}
		displayUnits = *unitsFlag
	}

	var m framlink.MuxInterface
	if *devMode {
		data, err := os.ReadFile("fixtures.txt")
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		line := strings.TrimSpace(string(data))
		m = framlink.NewMockMux(line, cfg.GetScanInterval())
	} else {
		realMux, err := framlink.NewRealMux(*portPath, framlink.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open NFC bridge: %v", err)
		}
		if err := realMux.Initialize(); err != nil {
			log.Fatalf("failed to initialize NFC bridge: %v", err)
		}
		m = realMux
	}
	defer m.Close()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	decoder := libre.NewDecoder(cfg.GetLibreMultiplier())

	var remoteClient *remote.Client
	if cfg.RemoteEnabled() {
		remoteClient = remote.New(
			cfg.GetRemoteEndpoint(), cfg.GetRemoteToken(),
			cfg.GetSensorSerial(), cfg.GetPatchInfo(), nil,
		)
		log.Printf("remote decode enabled via %s", cfg.GetRemoteEndpoint())
	}

	pipeline := ingest.NewPipeline(
		database, decoder, remoteClient, cfg.GetRequestTimeout(), cfg.GetSensorSerial(),
	)

	// Wait group for the bridge monitor, ingest, and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor NFC bridge: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to bridge lines and feed them into the ingest pipeline
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		if err := pipeline.Run(ctx, c); err != nil && err != context.Canceled {
			log.Printf("ingest routine failed: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		apiMux := api.NewServer(m, database, displayUnits, cfg.GetLibreMultiplier()).ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/command", apiMux)

		// read static files from the embedded filesystem in production or
		// from the local ./static in dev for easier iteration without
		// restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(staticFiles))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
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

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
