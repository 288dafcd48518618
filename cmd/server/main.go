package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aezcrib/backend/internal/database"
	mW "github.com/aezcrib/backend/internal/middleware"
	"github.com/aezcrib/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("credits.per_unit", "CREDITS_PER_UNIT")
	viper.BindEnv("credits.minimum_topup", "CREDITS_MINIMUM_TOPUP")
	viper.BindEnv("credits.currency", "CREDITS_CURRENCY")
	viper.BindEnv("worksheets.file_dir", "WORKSHEETS_FILE_DIR")
	viper.BindEnv("admin.token", "ADMIN_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	defer redisClient.Close()

	identityService := services.NewIdentityService(redisClient)
	catalogService := services.NewCatalogService(db)
	transactionService := services.NewTransactionService(db)
	creditService := services.NewCreditService(db, transactionService)
	purchaseService := services.NewPurchaseService(db, catalogService)
	recommendationService := services.NewRecommendationService(db)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Static file server for worksheet thumbnails
	r.Handle("/static/worksheet-thumbnails/*", http.StripPrefix("/static/worksheet-thumbnails/",
		mW.StaticFileServer("./static/worksheet-thumbnails")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/credits/rates", creditService.GetRates)
		r.Get("/recommendations/popular", recommendationService.GetPopular)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.Authenticated(identityService))

			r.Get("/credits", creditService.GetCredits)
			r.Post("/credits/topup", creditService.RequestTopUp)

			r.Get("/worksheets/{worksheetID}/eligibility", purchaseService.GetPurchaseEligibility)
			r.Post("/worksheets/{worksheetID}/purchase", purchaseService.PurchaseWorksheet)
			r.Get("/worksheets/owned", purchaseService.GetOwnedWorksheets)
			r.Get("/worksheets/{worksheetID}/download", purchaseService.DownloadWorksheet)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Get("/transactions/stats", transactionService.GetStats)

			r.Get("/recommendations", recommendationService.GetRecommendations)
		})

		// Manual top-up verification hooks
		r.Group(func(r chi.Router) {
			r.Use(mW.AdminOnly)

			r.Post("/admin/transactions/{txID}/confirm", transactionService.ConfirmTopUp)
			r.Post("/admin/transactions/{txID}/decline", transactionService.DeclineTopUp)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
