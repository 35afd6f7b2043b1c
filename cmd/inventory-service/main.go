package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/freshmart/freshmart-backend/internal/inventory/events"
	"github.com/freshmart/freshmart-backend/internal/inventory/handler"
	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/internal/inventory/service"
	"github.com/freshmart/freshmart-backend/pkg/clock"
	"github.com/freshmart/freshmart-backend/pkg/config"
	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/httputil"
	"github.com/freshmart/freshmart-backend/pkg/logger"
	"github.com/freshmart/freshmart-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("inventory-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("inventory-service", cfg.Server.Environment)
	log.Info().Msg("starting Inventory Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	rawPublisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	publisher := events.NewPublisher(rawPublisher, log)

	// Initialize repositories
	batchRepo := repository.NewBatchRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	branchRepo := repository.NewBranchRepository(db)

	// Initialize services
	clk := clock.System()
	allocator := service.NewFifoAllocator(batchRepo)
	stockService := service.NewStockService(batchRepo, movementRepo, branchRepo, allocator, publisher, clk, &cfg.Stock, log)
	expiryService := service.NewExpiryService(batchRepo, movementRepo, publisher, clk, log)
	transferService := service.NewTransferService(db, transferRepo, batchRepo, movementRepo, branchRepo, allocator, publisher, clk, &cfg.Stock, log)
	advisor := service.NewAllocationAdvisor(batchRepo, branchRepo, log)

	// Initialize handlers
	batchHandler := handler.NewBatchHandler(stockService, expiryService, log)
	transferHandler := handler.NewTransferHandler(transferService, log)
	advisorHandler := handler.NewAdvisorHandler(advisor, log)

	// Start background expiry sweep
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := service.NewExpirySweepScheduler(expiryService, cfg.Expiry.SweepInterval, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*.freshmart.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "inventory-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(httputil.Auth(&cfg.JWT))

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", batchHandler.Receive)
			r.Get("/{id}", batchHandler.Get)
			r.Post("/{id}/dispose", batchHandler.Dispose)
			r.Post("/{id}/undo-disposal", batchHandler.UndoDisposal)
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/{branchID}/{productID}", batchHandler.StockSummary)
			r.Post("/deduct", batchHandler.Deduct)
		})

		// Expiry routes
		r.Route("/expiry", func(r chi.Router) {
			r.Post("/sweep", batchHandler.Sweep)
			r.Get("/{branchID}/expired", batchHandler.ListExpired)
			r.Get("/{branchID}/expiring", batchHandler.ListExpiring)
		})

		// Transfer routes
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", transferHandler.Create)
			r.Post("/emergency", transferHandler.Emergency)
			r.Get("/{id}", transferHandler.Get)
			r.Post("/{id}/approve", transferHandler.Approve)
			r.Post("/{id}/reject", transferHandler.Reject)
			r.Post("/{id}/ship", transferHandler.Ship)
			r.Post("/{id}/receive", transferHandler.Receive)
			r.Post("/{id}/cancel", transferHandler.Cancel)
		})
		r.Get("/branches/{branchID}/transfers", transferHandler.List)

		// Advisor routes
		r.Route("/advisor", func(r chi.Router) {
			r.Get("/emergency-sources/{branchID}/{productID}", advisorHandler.EmergencySources)
			r.Get("/rebalancing/{productID}", advisorHandler.Rebalancing)
			r.Get("/route-score/{fromBranchID}/{toBranchID}", advisorHandler.RouteScore)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the sweep scheduler
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
