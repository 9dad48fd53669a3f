// Command robotd runs the SLAM and motion-control core as a single
// process: one goroutine per hardware resource, a fixed-period control
// loop, and a dashboard websocket, shut down together via
// sync.WaitGroup + signal.NotifyContext, one goroutine owning one port.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fieldcortex/slamcore/internal/config"
	"github.com/fieldcortex/slamcore/internal/control"
	"github.com/fieldcortex/slamcore/internal/drivetrain"
	"github.com/fieldcortex/slamcore/internal/lidarproto"
	"github.com/fieldcortex/slamcore/internal/monitoring"
	"github.com/fieldcortex/slamcore/internal/posegraphstore"
	"github.com/fieldcortex/slamcore/internal/telemetry"
	"github.com/fieldcortex/slamcore/internal/timeutil"
	"github.com/fieldcortex/slamcore/internal/version"
)

// driveConnectRetry is how often the drivetrain task retries a failed
// open/realign before giving the hardware another chance.
const driveConnectRetry = 10 * time.Millisecond

var (
	configPath = flag.String("config", config.DefaultConfigPath, "path to tuning config JSON")
	listen     = flag.String("listen", "", "override the configured telemetry listen address")
)

func main() {
	flag.Parse()
	log.Printf("slamcore robotd %s (%s)", version.Version, version.GitSHA)

	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}

	clock := timeutil.RealClock{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drivePort := openDrivetrainRetry(ctx, clock, cfg)
	if drivePort == nil {
		return // interrupted before the hardware appeared
	}
	defer drivePort.Close()

	lidarPort := openLidarRetry(ctx, clock, cfg)
	if lidarPort == nil {
		return
	}
	defer lidarPort.Close()

	store, err := posegraphstore.Open(cfg.GetPoseGraphStorePath())
	if err != nil {
		log.Fatalf("failed to open pose graph store: %v", err)
	}
	defer store.Close()

	loop := control.NewLoop(clock, drivePort, cfg)
	loop.SetLidarHealthSource(func() bool { return lidarPort.Health() == lidarproto.Healthy })

	if err := store.CreateSession(loop.SessionUUID(), clock.Now().Unix()); err != nil {
		log.Printf("failed to record session start: %v", err)
	}

	dashboard := telemetry.NewServer(loop)
	dashboard.SetStaticDir(cfg.GetStaticDir())
	loop.SetPublisher(dashboard)

	var wg sync.WaitGroup

	// drivetrain telemetry task: reads frames and writes the staged twist
	// until ctx is cancelled, reopening and re-aligning on any I/O error
	// rather than aborting.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if err := drivePort.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("drivetrain task: %v", err)
			}
			if ctx.Err() != nil {
				break
			}
			clock.Sleep(driveConnectRetry)
			if err := drivePort.Reopen(); err != nil {
				continue
			}
			if err := drivePort.ReAlign(clock); err != nil {
				log.Printf("drivetrain realign: %v", err)
			}
		}
		log.Print("drivetrain task stopped")
	}()

	// lidar scan task: decodes frames into scans until ctx is cancelled,
	// re-running the open/handshake sequence on any failure.
	scans := make(chan lidarproto.Scan, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if err := lidarPort.Run(ctx, scans); err != nil && ctx.Err() == nil {
				log.Printf("lidar task: %v", err)
			}
			if ctx.Err() != nil {
				break
			}
			if err := lidarPort.Reopen(); err != nil {
				clock.Sleep(time.Second)
				continue
			}
			if err := lidarPort.Connect(clock); err != nil {
				log.Printf("lidar handshake: %v", err)
			}
		}
		log.Print("lidar task stopped")
	}()

	// scan forwarding task
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case scan := <-scans:
				loop.PushLidarScan(scan)
			case <-ctx.Done():
				log.Print("lidar forwarding task stopped")
				return
			}
		}
	}()

	// control loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
		log.Print("control loop stopped")
	}()

	// pose graph persistence task: periodically snapshots the graph into
	// the session store so a crash never loses more than one tick period.
	wg.Add(1)
	go func() {
		defer wg.Done()
		persistGraph(ctx, clock, loop, store)
		log.Print("persistence task stopped")
	}()

	// dashboard HTTP/websocket server
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    listenAddr,
			Handler: dashboard.ServeMux(),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start dashboard server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down dashboard server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("dashboard server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}

// openDrivetrainRetry opens the MCU serial port, retrying every
// driveConnectRetry until it succeeds or ctx is cancelled. Returns nil
// only on cancellation.
func openDrivetrainRetry(ctx context.Context, clock timeutil.Clock, cfg *config.TuningConfig) *drivetrain.Port {
	logged := false
	for ctx.Err() == nil {
		port, err := drivetrain.Open(cfg.GetDrivetrainPort(), cfg.GetWheelRadiusMeters())
		if err == nil {
			return port
		}
		if !logged {
			log.Printf("waiting for drivetrain port: %v", err)
			logged = true
		}
		clock.Sleep(driveConnectRetry)
	}
	return nil
}

// openLidarRetry opens the lidar serial port and runs the handshake,
// retrying indefinitely until both succeed or ctx is cancelled. Returns
// nil only on cancellation.
func openLidarRetry(ctx context.Context, clock timeutil.Clock, cfg *config.TuningConfig) *lidarproto.Port {
	for ctx.Err() == nil {
		port, err := lidarproto.Open(cfg.GetLidarPort())
		if err != nil {
			log.Printf("waiting for lidar port: %v", err)
			clock.Sleep(time.Second)
			continue
		}
		port.SetMinScanPoints(cfg.GetMinScanPoints())
		if err := port.Connect(clock); err != nil {
			log.Printf("lidar handshake: %v", err)
			port.Close()
			clock.Sleep(time.Second)
			continue
		}
		return port
	}
	return nil
}

// persistGraph writes the loop's current node/edge snapshot to the store
// once per second until ctx is cancelled.
func persistGraph(ctx context.Context, clock timeutil.Clock, loop *control.Loop, store *posegraphstore.Store) {
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	scansSaved := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			nodes, edges := loop.GraphSnapshot()
			for i, n := range nodes {
				if err := store.SaveNode(loop.SessionUUID(), i, n); err != nil {
					monitoring.Warnf("persistence: save node %d: %v", i, err)
				}
			}
			for i, e := range edges {
				if err := store.SaveEdge(loop.SessionUUID(), i, e); err != nil {
					monitoring.Warnf("persistence: save edge %d: %v", i, err)
				}
			}
			// Scans are immutable once recorded, so only new nodes' scans
			// need writing.
			for i := scansSaved + 1; i < len(nodes); i++ {
				scan := loop.NodeScan(i)
				if scan == nil {
					continue
				}
				if err := store.SaveScan(loop.SessionUUID(), i, scan); err != nil {
					monitoring.Warnf("persistence: save scan %d: %v", i, err)
					break
				}
				scansSaved = i
			}
		}
	}
}
