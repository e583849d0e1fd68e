package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/passhub/server/internal/config"
	"github.com/passhub/server/internal/handlers"
	custommw "github.com/passhub/server/internal/middleware"
	"github.com/passhub/server/internal/observability"
	"github.com/passhub/server/internal/repository"
	"github.com/passhub/server/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("passhub-server", handlers.Version))
	if err != nil {
		log.Printf("Warning: telemetry initialization failed: %v", err)
	}

	// Initialize database and repositories
	var deviceRepo repository.DeviceRepo
	var passRepo repository.PassRepo
	var registrationRepo repository.RegistrationRepo
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL database")
		db, err := repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer db.Close()
		deviceRepo = repository.NewDeviceRepository(db)
		passRepo = repository.NewPassRepository(db)
		registrationRepo = repository.NewRegistrationRepository(db)
	} else {
		log.Println("Using SQLite database")
		db, err := repository.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
		defer db.Close()
		deviceRepo = repository.NewDeviceRepository(db)
		passRepo = repository.NewPassRepository(db)
		registrationRepo = repository.NewRegistrationRepository(db)
	}

	// Initialize services
	artifactStore, err := services.NewArtifactStore(cfg.Artifacts.BasePath)
	if err != nil {
		log.Fatalf("Failed to initialize artifact store: %v", err)
	}

	producerClient, err := services.NewProducerClient(cfg.Producer.URL, time.Duration(cfg.Producer.TimeoutSecs)*time.Second)
	if err != nil {
		log.Fatalf("Failed to initialize producer client: %v", err)
	}

	apnsService, err := services.NewAPNSService(cfg.APNS)
	if err != nil {
		log.Fatalf("Failed to initialize APNs service: %v", err)
	}

	walletMetrics, err := observability.NewWalletMetrics()
	if err != nil {
		log.Printf("Warning: metrics initialization failed: %v", err)
	}

	eventHub := services.NewEventHub()
	go eventHub.Run()

	passService := services.NewPassService(passRepo, artifactStore, producerClient)
	registrationService := services.NewRegistrationService(deviceRepo, passRepo, registrationRepo, artifactStore)
	updateService := services.NewUpdateService(
		passRepo, deviceRepo, registrationRepo,
		apnsService, eventHub, walletMetrics,
		cfg.Updates.Workers, cfg.Updates.MaxAttempts,
		time.Duration(cfg.Updates.BackoffMs)*time.Millisecond,
	)

	// Initialize handlers
	walletHandler := handlers.NewWalletHandler(registrationService, walletMetrics)
	adminHandler := handlers.NewPassAdminHandler(passService, registrationService, updateService, cfg.ServiceBaseURL)
	eventsHandler := handlers.NewEventsHandler(eventHub)
	healthHandler := handlers.NewHealthHandler()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("passhub-server"))
	if httpMetrics, err := observability.NewHTTPMetrics(); err == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/version", handlers.VersionHandler)

	// Device-facing wallet protocol, authenticated per pass
	r.Route("/v1", func(r chi.Router) {
		r.Use(custommw.ApplePassAuth())
		r.Post("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", walletHandler.RegisterDevice)
		r.Delete("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", walletHandler.UnregisterDevice)
		r.Get("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}", walletHandler.GetSerialNumbers)
		r.Get("/passes/{passTypeIdentifier}/{serialNumber}", walletHandler.GetPass)
	})

	// Issuer-facing admin API, authenticated by API key
	r.Route("/api", func(r chi.Router) {
		r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))
		r.Post("/passes", adminHandler.IssuePass)
		r.Post("/passes/{passTypeIdentifier}/{serialNumber}/update", adminHandler.UpdatePass)
		r.Get("/passes/{passTypeIdentifier}/{serialNumber}/registrations", adminHandler.ListRegistrations)
		r.Get("/events/ws", eventsHandler.HandleConnection)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("PassHub Server starting on %s", cfg.ServerAddress)
		log.Printf("Artifact storage path: %s", cfg.Artifacts.BasePath)
		log.Printf("APNs gateway: %s", cfg.APNS.Host)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}

	log.Println("Server stopped")
}
