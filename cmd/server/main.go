// Command server runs the authoritative room host: websocket endpoint,
// relay fan-out, per-room tick logs and archives, and the sqlite index.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"spheroid.gg/internal/persistence/indexdb"
	persistlog "spheroid.gg/internal/persistence/log"
	"spheroid.gg/internal/persistence/snapshot"
	"spheroid.gg/internal/relay"
	"spheroid.gg/internal/sim/room"
	"spheroid.gg/internal/sim/tuning"
	"spheroid.gg/internal/transport/ws"
)

// envConfig carries deploy-time overrides. Flags win over env.
type envConfig struct {
	Addr       string `env:"SPHEROID_ADDR" envDefault:":8080"`
	DataDir    string `env:"SPHEROID_DATA_DIR" envDefault:"./data"`
	TuningPath string `env:"SPHEROID_TUNING" envDefault:"./configs/tuning.yaml"`
	DisableDB  bool   `env:"SPHEROID_DISABLE_DB"`
}

func main() {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", ec.Addr, "listen address")
	dataDir := flag.String("data", ec.DataDir, "data directory (tick logs, archives, index)")
	tuningPath := flag.String("tuning", ec.TuningPath, "path to tuning.yaml")
	disableDB := flag.Bool("disable_db", ec.DisableDB, "skip the sqlite index")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tun, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Printf("tuning not found (%s); using defaults: %v", *tuningPath, err)
		tun = tuning.Defaults()
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	mgr := newManager(ctx, tun, logger)
	bus := relay.New(relay.Limits{
		PublishWindow:   time.Duration(tun.RateLimits.PublishWindowMs) * time.Millisecond,
		PublishMax:      tun.RateLimits.PublishMax,
		MaxPayloadBytes: tun.RateLimits.MaxPayloadBytes,
	}, relay.WithAuthorityLostHook(func(roomID string) {
		if r := mgr.Get(roomID); r != nil {
			logger.Printf("room %s: authority connection lost; ending", roomID)
			r.End()
		}
	}))
	wireRooms(mgr, bus, tun, *dataDir, idx, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		ids := mgr.RoomIDs()
		fmt.Fprintf(w, "# TYPE spheroid_rooms gauge\nspheroid_rooms %d\n", len(ids))
		for _, id := range ids {
			if r := mgr.Get(id); r != nil {
				fmt.Fprintf(w, "spheroid_room_tick{room=%q} %d\n", id, r.CurrentTick())
			}
		}
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(mgr, bus, logger).Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (tick=%dms radius=%.0f)", *addr, tun.TickMs, tun.BaseRadius)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}

	mgr.Shutdown()
	if idx != nil {
		idx.Flush()
	}
	logger.Printf("shutdown complete")
}

func newManager(ctx context.Context, tun tuning.Tuning, logger *log.Logger) *room.Manager {
	base := room.Config{
		TickMs:                tun.TickMs,
		BaseRadius:            tun.BaseRadius,
		MaxPlayers:            tun.MaxPlayers,
		MoveSpeed:             tun.MoveSpeed,
		ArriveEpsilon:         tun.ArriveEpsilon,
		Gravity:               tun.Gravity,
		MaxManifestUnits:      tun.MaxManifestUnits,
		MaxWaypoints:          tun.MaxWaypoints,
		MaxSegmentLength:      tun.MaxSegmentLength,
		SeatCooldownBaseTicks: tun.SeatCooldownBaseTicks,
		SeatCooldownMaxShift:  tun.SeatCooldownMaxShift,
		AnnounceEveryTicks:    tun.AnnounceEveryTicks,
		SnapshotEveryTicks:    tun.SnapshotEveryTicks,
	}
	return room.NewManager(ctx, base, logger)
}

// wireRooms attaches the relay broadcaster plus per-room persistence: a
// tick log and archive directory under <data>/rooms/<id>.
func wireRooms(mgr *room.Manager, bus *relay.Relay, tun tuning.Tuning, dataDir string, idx *indexdb.SQLiteIndex, logger *log.Logger) {
	mgr.RoomOptions(func(roomID string) []room.Option {
		roomDir := filepath.Join(dataDir, "rooms", roomID)
		seed := ws.SeedFromID(roomID)

		opts := []room.Option{
			room.WithBroadcaster(busBroadcaster{bus: bus}),
			room.WithTickLogger(persistlog.NewTickLogger(roomDir)),
		}

		var rec snapshot.Recorder
		if idx != nil {
			idx.RecordRoom(roomID, seed)
			rec = idx
			opts = append(opts, room.WithDesyncRecorder(idx))
		}
		params := snapshot.Params{
			Seed:       seed,
			TickMs:     tun.TickMs,
			BaseRadius: tun.BaseRadius,
			MaxPlayers: tun.MaxPlayers,
		}
		opts = append(opts, room.WithArchiveSink(
			snapshot.NewArchiver(filepath.Join(dataDir, "archives"), params, rec)))

		logger.Printf("room %s: persistence at %s", roomID, roomDir)
		return opts
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
