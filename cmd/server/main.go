package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "citycraft.dev/internal/persistence/log"
	"citycraft.dev/internal/persistence/settingsdb"
	"citycraft.dev/internal/persistence/snapshot"
	"citycraft.dev/internal/protocol"
	"citycraft.dev/internal/sim/citygen"
	"citycraft.dev/internal/sim/quality"
	"citycraft.dev/internal/sim/stream"
	"citycraft.dev/internal/sim/tuning"
	"citycraft.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (used when no snapshot is loaded)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		snapPath   = flag.String("snapshot", "", "path to a city snapshot to serve (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the settings/event index db")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Settings blob + chunk event index (read-model; optional).
	var db *settingsdb.DB
	if !*disableDB {
		db, err = settingsdb.Open(filepath.Join(worldDir, "city.db"), logger)
		if err != nil {
			logger.Fatalf("open settings db: %v", err)
		}
		defer db.Close()
	}

	evLog := persistlog.NewChunkEventLogger(worldDir)
	defer evLog.Close()

	// The city: resumed from a snapshot, or generated in budgeted slices.
	city, err := loadOrGenerate(*snapPath, *seed, tune, logger)
	if err != nil {
		logger.Fatalf("city: %v", err)
	}
	logger.Printf("city ready: %d buildings, %d road segments, %d content chunks",
		len(city.Buildings), len(city.Net.Segments), len(city.ByChunk))

	var sink stream.EventSink = evLog
	if db != nil {
		sink = multiSink{evLog, db}
	}
	mgr := stream.NewManager(stream.Config{
		ChunkSize:     tune.Stream.ChunkSize,
		ViewDistance:  tune.Stream.ViewDistance,
		MoveThreshold: tune.Stream.MoveThreshold,
		LoadBatch:     tune.Stream.LoadBatch,
		DeferDelay:    time.Duration(tune.Stream.DeferDelayMs) * time.Millisecond,
	}, logger, sink)
	defer mgr.Close()

	var store quality.Store
	if db != nil {
		store = db
	}
	qm := quality.NewManager(
		quality.Preset(tune.Quality.Preset),
		quality.Thresholds{LowFPS: tune.Quality.LowFPS, HighFPS: tune.Quality.HighFPS},
		store, logger,
	)
	if tune.Quality.Mobile {
		mobile := true
		qm.UpdateSettings(quality.Patch{Mobile: &mobile})
	}

	wsServer := ws.NewServer(mgr, stream.CityGenerator(city), qm, protocol.WorldParams{
		Seed:         city.Seed,
		CitySize:     tune.City.Size,
		ChunkSize:    tune.Stream.ChunkSize,
		ViewDistance: tune.Stream.ViewDistance,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/status", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"world_id": *worldID,
			"seed":     city.Seed,
			"progress": mgr.Progress(),
			"quality":  qm.Settings(),
		})
	})

	httpSrv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

// loadOrGenerate prefers a snapshot; otherwise it runs the staged pipeline
// with the tuned slice budget so generation never monopolizes the process.
func loadOrGenerate(snapPath string, seed int64, tune tuning.Tuning, logger *log.Logger) (*citygen.City, error) {
	if p := strings.TrimSpace(snapPath); p != "" {
		snap, err := snapshot.Read(p)
		if err != nil {
			return nil, err
		}
		logger.Printf("loaded snapshot %s (seed %d)", p, snap.Header.Seed)
		return snap.ToCity()
	}

	pipe := citygen.NewPipeline(tune.CityConfig(seed))
	budget := time.Duration(tune.Stream.SliceBudgetMs) * time.Millisecond
	start := time.Now()
	city, err := pipe.Run(context.Background(), budget, func() {
		// Yield the scheduler between slices; generation is boot work,
		// not worth a dedicated worker pool.
		time.Sleep(time.Millisecond)
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("generated city in %s (seed %d)", time.Since(start).Round(time.Millisecond), seed)
	return city, nil
}

// multiSink fans chunk events out to the JSONL log and the sqlite index.
type multiSink []stream.EventSink

func (m multiSink) ChunkEvent(ev stream.Event) {
	for _, s := range m {
		s.ChunkEvent(ev)
	}
}
