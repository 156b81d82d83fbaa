package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"social-lab/auth"
	"social-lab/infrastructure/search"
	"social-lab/infrastructure/storage"
	"social-lab/infrastructure/uploads"
	"social-lab/infrastructure/websocket"
	"social-lab/internal"
	"social-lab/moderation"
	"social-lab/runtime"
	"social-lab/runtime/workers"
	"social-lab/services"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const healthService = "social.v1.Social"

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Social server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component, serves until a signal arrives and returns the exit code.
// Keeping os.Exit out of it lets the deferred closes run.
func run() (int, error) {
	// 1. Configuration & Logger
	// A missing .env is fine, the real environment wins anyway.
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (BadgerDB) and search (Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, RecordMapper)
	}

	store := storage.NewKV(db, logger, config.StoreTimeout)
	defer store.Close()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()
	index := search.NewUserIndex(blugeWriter, logger)

	// 3. Moderation
	censored, err := moderation.NewCensoredLoader(nil).LoadAll(moderation.DefaultDictionaryPath)
	if err != nil {
		return exitRuntime, fmt.Errorf("censored dictionaries: %w", err)
	}
	logger.Info("Censored dictionaries loaded", "languages", censored.Languages, "words", len(censored.Words))
	moderator, err := moderation.NewModerator(censored.Words, charReplacement, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("moderator init failed: %w", err)
	}

	// 4. Services and routing
	locks := runtime.NewKeyedMutex()
	limiter := runtime.NewRateLimiter(runtime.DefaultRules())
	registry := runtime.NewRegistry(logger)

	images := uploads.NewImageValidator(config.UploadRoot, logger)
	chat := services.NewChatService(store, locks, images, moderator, logger)
	friends := services.NewFriendService(store, locks, index, logger)
	presence := services.NewPresenceService(store, locks, logger)
	parties := services.NewPartyService(store, locks, chat, logger)
	session := services.NewSessionService(store, index, friends, presence, parties, chat, logger)

	router := runtime.NewRouter(logger, registry, limiter, runtime.Services{
		Friends:  friends,
		Presence: presence,
		Parties:  parties,
		Chat:     chat,
		Session:  session,
	}, config.RequestTimeout)

	// 5. Background workers
	healthServer := health.NewServer()
	telemetry := workers.NewTelemetryWorker(logger, registry, limiter.Size, locks.Size, config.MetricInterval)
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewJanitorWorker(logger, limiter, config.JanitorInterval),
		workers.NewReconcilerWorker(logger, router, config.ReconcileInterval, config.RequestTimeout, presence, chat),
		workers.NewHealthWorker(logger, store, healthServer, healthService, config.HealthInterval, config.StoreTimeout),
		telemetry,
	)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(ctx)
	}()

	errChan := make(chan error, 2)

	// 6. HTTP server: the websocket endpoint and the liveness probe
	wsConfig := websocket.DefaultConfig()
	wsConfig.ReadLimit = config.ReadLimit
	wsConfig.SendBuffer = config.SendBuffer
	wsConfig.AllowedOrigins = config.Origins()

	mux := http.NewServeMux()
	mux.Handle("/social", websocket.NewHandler(logger, auth.NewTokens(config.JwtSecret), router, wsConfig))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(telemetry.Latest())
	})

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:         address,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// Connections inherit the signal context so a shutdown closes every socket.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. gRPC server: health only
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(logger)))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	go func() {
		logger.Info("Starting gRPC server", "address", grpcAddress)
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 9. Graceful shutdown
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	sup.Stop()
	<-supervisorDone
	logger.Info("Program stopped cleanly")

	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

// RecordMapper renders stored JSON documents for the inspector.
// The type column is the key namespace, e.g. "party" for "party:<id>".
func RecordMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if namespace, _, ok := strings.Cut(key, ":"); ok {
		row.Type = strings.ToUpper(namespace)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, val); err != nil {
		// Sequences are raw counters
		row.Detail = fmt.Sprintf("%x", val)
		return row
	}
	row.Detail = compact.String()
	return row
}
