package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"placeQuestAPI/handlers"
	"placeQuestAPI/internal/notification"
	"placeQuestAPI/middleware"
	"placeQuestAPI/services"

	_ "net/http/pprof"
)

var (
	dbPool              *pgxpool.Pool
	userService         *services.UserService
	auditService        *services.AuditService
	ledgerService       *services.LedgerService
	grantService        *services.GrantService
	progressService     *services.ProgressService
	leaderboardService  *services.LeaderboardService
	rewardService       *services.RewardService
	notificationService *services.NotificationService
	actionService       *services.ActionService
	fcmService          *notification.FCMService
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to Postgres")

	userService = services.NewUserService(dbPool)
	auditService = services.NewAuditService(dbPool)
	ledgerService = services.NewLedgerService(dbPool)
	grantService = services.NewGrantService(dbPool, auditService)
	progressService = services.NewProgressService(dbPool, grantService)
	leaderboardService = services.NewLeaderboardService(dbPool, auditService)
	rewardService = services.NewRewardService(dbPool, auditService)
	notificationService = services.NewNotificationService(dbPool)
	actionService = services.NewActionService(dbPool, progressService, leaderboardService, notificationService)

	fcmService, err = notification.NewFCMService("./serviceAccountKey.json")
	if err != nil {
		log.Printf("Warning: Could not initialize FCM: %v", err)
	} else {
		notificationService.SetPushProvider(fcmService)
		log.Println("FCM Push Provider initialized successfully")
	}

	middleware.InitPrometheus()
	services.InitMetrics()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	userHandler := handlers.NewUserHandler(userService, progressService, ledgerService)
	leaderboardHandler := handlers.NewLeaderboardHandler(userService, leaderboardService)
	rewardHandler := handlers.NewRewardHandler(userService, rewardService)
	notificationHandler := handlers.NewNotificationHandler(userService, notificationService)
	actionHandler := handlers.NewActionHandler(actionService)
	adminHandler := handlers.NewAdminHandler(grantService, leaderboardService, auditService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "placeQuest-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER (end users, Clerk auth)
	// -------------------------------------------------------------------------
	protected := r.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/user", userHandler.GetProfile).Methods("GET")
	protected.HandleFunc("/user/sync", userHandler.SyncUser).Methods("POST")
	protected.HandleFunc("/user/progress", userHandler.GetProgress).Methods("GET")
	protected.HandleFunc("/user/transactions", userHandler.GetHistory).Methods("GET")

	protected.HandleFunc("/leaderboard", leaderboardHandler.GetLeaderboard).Methods("GET")
	protected.HandleFunc("/leaderboard/me", leaderboardHandler.GetMyRank).Methods("GET")
	protected.HandleFunc("/leaderboard/{window:week|month}", leaderboardHandler.GetWindowLeaderboard).Methods("GET")

	protected.HandleFunc("/rewards", rewardHandler.ListRewards).Methods("GET")
	protected.HandleFunc("/rewards/redemptions", rewardHandler.GetRedemptions).Methods("GET")
	protected.HandleFunc("/rewards/{id}/redeem", rewardHandler.RedeemReward).Methods("POST")

	protected.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	protected.HandleFunc("/notifications/register-device", notificationHandler.RegisterDevice).Methods("POST")

	// -------------------------------------------------------------------------
	// INTERNAL SUBROUTER (service-to-service action feed)
	// -------------------------------------------------------------------------
	internal := r.PathPrefix("/internal/v1").Subrouter()
	internal.Use(middleware.AdminAuthMiddleware)

	internal.HandleFunc("/actions", actionHandler.RecordAction).Methods("POST")

	// -------------------------------------------------------------------------
	// ADMIN SUBROUTER (operators and the job scheduler)
	// -------------------------------------------------------------------------
	admin := r.PathPrefix("/admin/v1").Subrouter()
	admin.Use(middleware.AdminAuthMiddleware)

	admin.HandleFunc("/grants", adminHandler.Grant).Methods("POST")
	admin.HandleFunc("/audit", adminHandler.ListAuditLog).Methods("GET")
	admin.HandleFunc("/jobs/leaderboard-refresh", adminHandler.RefreshLeaderboard).Methods("POST")
	admin.HandleFunc("/jobs/leaderboard-reset", adminHandler.ResetLeaderboard).Methods("POST")
	admin.HandleFunc("/jobs/clear-cache", adminHandler.ClearLeaderboardCache).Methods("POST")

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
