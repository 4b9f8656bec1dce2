package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"coinledger/internal/audit"
	"coinledger/internal/cache"
	"coinledger/internal/config"
	"coinledger/internal/domain"
	"coinledger/internal/errors"
	"coinledger/internal/handler"
	"coinledger/internal/ledger"
	"coinledger/internal/repository"
	"coinledger/internal/service"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const balanceCacheTTL = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	logger *zap.Logger
	port   string
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Initialize database connection
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test database connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("connected to database")

	var balances *cache.BalanceCache
	if cfg.Redis.Enabled {
		if client := cache.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger); client != nil {
			balances = cache.NewBalanceCache(client, balanceCacheTTL, logger)
			logger.Info("balance cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	// Initialize store (Unit of Work)
	store := repository.NewStore(db, logger)

	if err := ensureFundAccount(store, cfg.Ledger.FundAccountID, logger); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize engine and services
	limiter := ledger.NewPeriodLimiter(cfg.Ledger.TierLimits, cfg.Ledger.Timezone)
	sink := audit.NewLogSink(logger)
	engine := ledger.NewEngine(store, limiter, cfg.Ledger.FundAccountID, sink, logger)

	accountService := service.NewAccountService(store, balances, cfg.Ledger.DefaultTitheRate, logger)
	transactionService := service.NewTransactionService(engine, store, balances, cfg.Ledger.FundAccountID, cfg.Ledger.HistoryPageSize, logger)

	// Initialize handlers
	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(transactionService)

	// Setup router
	router := mux.NewRouter()

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/balance", accountHandler.GetBalance).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/tier", accountHandler.SetTier).Methods("PUT")
	router.HandleFunc("/accounts/{account_id}/tithe", accountHandler.SetTitheRate).Methods("PUT")
	router.HandleFunc("/accounts/{account_id}/status", accountHandler.SetStatus).Methods("PUT")

	// Transfer routes
	router.HandleFunc("/transfers", transactionHandler.Transfer).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/transactions", transactionHandler.History).Methods("GET")

	// Network stats
	router.HandleFunc("/stats", accountHandler.Stats).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check database connectivity in health check
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		db:     db,
		logger: logger,
	}, nil
}

// ensureFundAccount provisions the reserved tithe destination on first start.
// It is created active so it can receive legs immediately, with a zero tithe
// rate of its own.
func ensureFundAccount(store domain.Store, fundID string, logger *zap.Logger) error {
	account := &domain.Account{
		ID:        fundID,
		Balance:   0,
		Tier:      1,
		TitheRate: decimal.Zero,
		Status:    domain.StatusActive,
	}

	err := store.Account().CreateAccount(account)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.DuplicateAccount {
			return nil
		}
		return err
	}

	logger.Info("fund account provisioned", zap.String("account_id", fundID))
	return nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("user_agent", r.UserAgent()),
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

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// Create HTTP server
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", zap.String("port", s.port))

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	// Close database connection
	if s.db != nil {
		s.db.Close()
	}

	// Shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
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
	// Quiet logger for tests (port 0), production logger otherwise
	var logger *zap.Logger
	if cfg.ServerPort == "0" {
		logger = zap.NewNop()
	} else {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, "", err
		}
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
