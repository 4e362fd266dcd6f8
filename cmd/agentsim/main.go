package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/config"
	"github.com/banshee-data/agentsim/internal/db"
	"github.com/banshee-data/agentsim/internal/framebuf"
	"github.com/banshee-data/agentsim/internal/httputil"
	"github.com/banshee-data/agentsim/internal/monitor"
	"github.com/banshee-data/agentsim/internal/sensor"
	"github.com/banshee-data/agentsim/internal/simulation"
	"github.com/banshee-data/agentsim/internal/timeutil"
	"github.com/banshee-data/agentsim/internal/version"
	"github.com/banshee-data/agentsim/internal/visualiser"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Simulation config file (.yaml or .json)")
	dbPath      = flag.String("db-path", "", "Database file (overrides database.path)")
	noDB        = flag.Bool("no-db", false, "Run without persisting sensor records")
	listen      = flag.String("listen", "", "HTTP listen address (overrides server.listen)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC frame stream address (overrides server.grpc_listen, \"off\" disables)")
	realtime    = flag.Bool("realtime", false, "Pace ticks to the wall clock")
	frames      = flag.Int("frames", 0, "Number of frames to run (overrides the configured duration)")
	seed        = flag.Uint64("seed", 0, "Random seed (overrides simulation.seed)")
	hold        = flag.Bool("hold", false, "Keep serving after the run completes until interrupted")
	bufferSize  = flag.Int("frame-buffer", 64, "Frames buffered between the simulation and its consumers")
	maxClients  = flag.Int("max-clients", 16, "Maximum concurrent frame stream clients")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// overrides holds command line values that replace config keys. Zero
// values leave the config untouched.
type overrides struct {
	DBPath     string
	Listen     string
	GRPCListen string
	Realtime   bool
	Frames     int
	Seed       uint64
}

func applyOverrides(cfg *config.Config, o overrides) error {
	if o.DBPath != "" {
		cfg.Database.Path = &o.DBPath
	}
	if o.Listen != "" {
		cfg.Server.Listen = &o.Listen
	}
	if o.GRPCListen != "" {
		cfg.Server.GRPCListen = &o.GRPCListen
	}
	if o.Realtime {
		cfg.Simulation.Realtime = &o.Realtime
	}
	if o.Frames > 0 {
		cfg.Simulation.DurationSeconds = nil
		cfg.Simulation.MaximumFrames = &o.Frames
	}
	if o.Seed != 0 {
		cfg.Simulation.Seed = &o.Seed
	}
	return cfg.Validate()
}

// grpcAddr maps the configured gRPC address to a publisher listen address.
func grpcAddr(cfg *config.Config) string {
	if addr := cfg.GetGRPCListen(); addr != "off" {
		return addr
	}
	return ""
}

// sensorIDs lists the configured sensors in the order they run.
func sensorIDs(specs []sensor.Spec) []string {
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.ID
	}
	return ids
}

// statusHandler reports the build, the run and the frame pipeline.
func statusHandler(runID string, buf *framebuf.DoubleBuffer[agent.Frame], consumer *visualiser.Consumer, pub *visualiser.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httputil.MethodGuard(w, r, http.MethodGet) {
			return
		}
		status := map[string]any{
			"version":   version.Info(),
			"run_id":    runID,
			"buffer":    buf.Stats(),
			"consumed":  consumer.Count(),
			"publisher": pub.Stats(),
		}
		if f, ok := consumer.Latest(); ok {
			status["frame"] = f.Index
			status["agents"] = len(f.Agents)
			status["timestamp"] = timeutil.Format(f.Timestamp)
		}
		httputil.WriteJSONOK(w, status)
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := applyOverrides(cfg, overrides{
		DBPath:     *dbPath,
		Listen:     *listen,
		GRPCListen: *grpcListen,
		Realtime:   *realtime,
		Frames:     *frames,
		Seed:       *seed,
	}); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], cfg.GetDatabasePath())
		return
	}

	var (
		sink     sensor.Sink
		database *db.DB
	)
	if !*noDB {
		database, err = db.NewDB(cfg.GetDatabasePath())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		sink = database
	}

	opts := simulation.OptionsFromConfig(cfg, time.Now())
	buf := framebuf.New[agent.Frame](*bufferSize)
	sim, err := simulation.New(opts, sink, buf, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("failed to create simulation: %v", err)
	}
	log.Printf("%s run=%s agents=%d sensors=%d", version.String(), sim.RunID(), len(sim.Agents()), len(opts.Sensors))

	pub := visualiser.NewPublisher(visualiser.Config{ListenAddr: grpcAddr(cfg), MaxClients: *maxClients})
	if err := pub.Start(); err != nil {
		log.Fatalf("failed to start frame publisher: %v", err)
	}
	defer pub.Stop()
	consumer := visualiser.NewConsumer(buf, pub)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the consumer drains until the simulation ends the stream, so it does
	// not watch ctx
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(context.Background())
		log.Print("consumer routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sim.Run(ctx)
		log.Print("simulation routine terminated")
		if !*hold {
			stop()
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach admin routes: %v", err)
			}
		}

		var store monitor.CellStore
		if database != nil {
			store = database
		}
		monitor.NewWebServer(monitor.Config{
			Latest:  consumer.Latest,
			Store:   store,
			Width:   opts.Width,
			Height:  opts.Height,
			Sensors: sensorIDs(opts.Sensors),
		}).Attach(mux)
		mux.Handle("/ws", visualiser.WebsocketHandler(pub))
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/api/status", statusHandler(sim.RunID(), buf, consumer, pub))

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		sim.Stop()

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
