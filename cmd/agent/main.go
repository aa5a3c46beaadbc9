package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/auth"
	"github.com/TerraScore/TerraScore/internal/config"
	"github.com/TerraScore/TerraScore/internal/db"
	"github.com/TerraScore/TerraScore/internal/geofence"
	"github.com/TerraScore/TerraScore/internal/location"
	"github.com/TerraScore/TerraScore/internal/media"
	"github.com/TerraScore/TerraScore/internal/offers"
	"github.com/TerraScore/TerraScore/internal/server"
	"github.com/TerraScore/TerraScore/internal/store"
	syncer "github.com/TerraScore/TerraScore/internal/sync"
	"github.com/TerraScore/TerraScore/internal/upload"
)

const (
	connectivityInterval = 30 * time.Second
	locationBufferSize   = 64
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig func() config.Config
	openDB     func(string) (*sql.DB, error)
	notify     func(chan<- os.Signal, ...os.Signal)
	run        func(context.Context, config.Config, *sql.DB, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig: config.Load,
		openDB:     db.Open,
		notify:     signal.Notify,
		run:        Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	conn, err := deps.openDB(cfg.DBPath)
	if err != nil {
		log.Printf("database open failed: %v", err)
		return
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, conn, signals, nil); err != nil {
		log.Printf("agent exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run wires the agent together and blocks until a termination signal.
func Run(ctx context.Context, cfg config.Config, conn *sql.DB, signals <-chan os.Signal, listen ListenFunc) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
		logger.WithField("device_id", deviceID).Info("generated device id")
	}

	st := store.New(conn)
	client := api.NewClient(cfg.APIBaseURL, deviceID)

	tokenStore := auth.NewStore(cfg.TokenPath)
	tokens := auth.NewManager(tokenStore, func(ctx context.Context, refreshToken string) (string, string, error) {
		pair, err := client.RefreshToken(ctx, refreshToken)
		if err != nil {
			return "", "", err
		}
		return pair.AccessToken, pair.RefreshToken, nil
	})
	client.UseTokens(tokens)

	pipeline := upload.NewPresignedPipeline(client)
	orchestrator := syncer.NewOrchestrator(st, client, pipeline, logger)

	bus := offers.NewBus()
	channel := offers.NewChannel(cfg.WSURL, client, tokens, bus, logger)
	channel.Start(runCtx)
	defer channel.Close()

	monitor := syncer.NewMonitor(client, connectivityInterval, func() {
		go orchestrator.RunSync(runCtx)
		go channel.Resume()
	}, logger)
	go monitor.Run(runCtx)

	// platform fixes arrive over POST /location and drain into the durable
	// buffer until the next sync pass
	fixes := location.NewSubscription(locationBufferSize)
	recorder := location.NewRecorder(st, logger)
	go recorder.Run(runCtx, fixes)

	gate := geofence.NewGate(client)
	capturer := media.NewCapturer(cfg.MediaDir)

	if err := orchestrator.Start(runCtx); err != nil {
		logger.WithError(err).Warn("sync startup recovery failed")
	}

	srv := server.NewServer(st, monitor, channel, orchestrator, gate, fixes, capturer)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.StatusAddr)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	return conn.Close()
}
