package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"billpay-wallet/internal/config"
	"billpay-wallet/internal/events"
	"billpay-wallet/internal/handler"
	"billpay-wallet/internal/metrics"
	"billpay-wallet/internal/paystack"
	"billpay-wallet/internal/ratelimit"
	"billpay-wallet/internal/repository"
	"billpay-wallet/internal/scheduler"
	"billpay-wallet/internal/service"
	"billpay-wallet/internal/vendor"
)

// Server represents the HTTP server
type Server struct {
	router       *mux.Router
	server       *http.Server
	db           *sql.DB
	logger       *slog.Logger
	port         string
	scheduler    *scheduler.Scheduler
	publisher    events.Publisher
	closeLimiter func() error
	purchases    *service.PurchaseService
	provisioning *service.ProvisioningService
}

// NewServer connects to the database, applies migrations and wires every component.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to database")

	if err := repository.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	limiter, closeLimiter, err := ratelimit.New(cfg.RedisURL, "purchase", cfg.PurchaseRateLimitPerMinute, time.Minute, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	publisher := events.NewPublisher(cfg.RabbitMQURL, cfg.EventsExchange, logger)
	store := repository.NewStore(db, logger)
	paystackClient := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.PaystackRequestsPerSecond, logger)
	vendorClient := vendor.NewClient(cfg.VendorBaseURL, cfg.VendorAPIKey, cfg.VendorTimeout, logger)

	// Services
	provisioning := service.NewProvisioningService(store, paystackClient, cfg.PaystackPreferredBank, cfg.ProvisioningTimeout, logger)
	accountService := service.NewAccountService(store, provisioning, logger)
	depositService := service.NewDepositService(store, paystackClient, publisher, m, logger)
	syncService := service.NewSyncService(store, paystackClient, depositService, m, logger)
	tempAccountService := service.NewTempAccountService(store, paystackClient, depositService, cfg.TempAccountTTL, logger)
	recordService := service.NewRecordService(store, logger)
	purchaseService := service.NewPurchaseService(store, vendorClient, limiter, publisher, m, service.PurchaseConfig{
		PendingAfter:  cfg.PurchasePendingAfter,
		VendorTimeout: cfg.VendorTimeout,
		SettleWindow:  cfg.PurchaseSettleWindow,
	}, logger)
	sweeper := service.NewSweeper(store, depositService, m, logger)

	jobs := scheduler.New(logger)
	err = jobs.Register("pending_deposit_sweep", cfg.PendingSweepSchedule, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()
		if _, err := sweeper.SweepPendingDeposits(jobCtx); err != nil {
			logger.Error("Pending deposit sweep failed", "error", err)
		}
	})
	if err != nil {
		publisher.Close()
		closeLimiter()
		db.Close()
		return nil, err
	}

	// Handlers
	accountHandler := handler.NewAccountHandler(accountService, provisioning)
	depositHandler := handler.NewDepositHandler(depositService, syncService, tempAccountService, recordService)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService, recordService)
	webhookHandler := handler.NewWebhookHandler(cfg.PaystackSecretKey, depositService, logger)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/lookup", accountHandler.LookupContact).Methods("POST")
	router.HandleFunc("/accounts/{account_id}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_id}", accountHandler.UpdateProfile).Methods("PATCH")
	router.HandleFunc("/accounts/{account_id}/pin", accountHandler.SetPIN).Methods("PUT")
	router.HandleFunc("/accounts/{account_id}/dedicated-account", accountHandler.GetDedicatedAccount).Methods("GET")

	// Deposit routes
	router.HandleFunc("/deposits/verify", depositHandler.VerifyDeposit).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/sync", depositHandler.SyncAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/deposits", depositHandler.ListDeposits).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/temp-accounts", depositHandler.CreateTempAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/temp-accounts/current", depositHandler.GetTempAccount).Methods("GET")

	// Purchase routes
	router.HandleFunc("/purchases/{product}", purchaseHandler.Purchase).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/records", purchaseHandler.ListRecords).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/records/{record_id}", purchaseHandler.GetRecord).Methods("GET")

	router.HandleFunc("/webhooks/paystack", webhookHandler.Paystack).Methods("POST")
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:       router,
		db:           db,
		logger:       logger,
		scheduler:    jobs,
		publisher:    publisher,
		closeLimiter: closeLimiter,
		purchases:    purchaseService,
		provisioning: provisioning,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start listens on port and starts the sweep scheduler. Port "0" picks a free port.
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// WriteTimeout leaves room for a purchase to reach its pending fallback.
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	s.scheduler.Start()
	return s.port, nil
}

// Stop shuts down HTTP first, then waits for scheduled jobs and background purchase
// settlement before closing the broker, limiter and database.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var shutdownErr error
	if s.server != nil {
		shutdownErr = s.server.Shutdown(ctx)
	}

	select {
	case <-s.scheduler.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduled jobs still running at shutdown")
	}

	settled := make(chan struct{})
	go func() {
		s.purchases.Wait()
		s.provisioning.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		s.logger.Warn("Background work still running at shutdown")
	}

	s.publisher.Close()
	if err := s.closeLimiter(); err != nil {
		s.logger.Warn("Failed to close rate limiter", "error", err)
	}
	if s.db != nil {
		s.db.Close()
	}
	return shutdownErr
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
