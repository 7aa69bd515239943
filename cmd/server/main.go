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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hefamarket/backend/internal/database"
	"github.com/hefamarket/backend/internal/ledger"
	mW "github.com/hefamarket/backend/internal/middleware"
	"github.com/hefamarket/backend/internal/paystack"
	"github.com/hefamarket/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title HEFA Marketplace Ledger API
// @version 1.0
// @description Escrow wallet and double-entry ledger backend for the HEFA marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("paystack.secret_key", "PAYSTACK_SECRET_KEY")
	viper.BindEnv("paystack.base_url", "PAYSTACK_BASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	store := ledger.NewPostgresStore(db)
	workflow := ledger.NewEscrowWorkflow(store)
	gateway := paystack.NewClient()

	walletService := services.NewWalletService(store, redisClient)
	paymentsService := services.NewPaymentsService(db, redisClient, gateway, workflow)
	ordersService := services.NewOrdersService(db, store, workflow)
	payoutsService := services.NewPayoutsService(db, redisClient, gateway, store)
	isoService := services.NewISO20022Service(db)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Gateway webhooks (signature-verified, no bearer auth)
		r.Post("/webhooks/paystack", paymentsService.HandleWebhook)
		r.Post("/webhooks/paystack-transfer", payoutsService.HandleTransferWebhook)

		// Public order/payment surface
		r.Post("/payments/orders/{orderId}/intent", paymentsService.CreateIntent)
		r.Get("/payments/intents/{intentId}/qr", paymentsService.GetIntentQR)
		r.Get("/orders/{orderId}", ordersService.GetOrder)

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/orders", ordersService.CreateOrder)

			r.Get("/wallet/owners/{ownerType}/{ownerId}/balance", walletService.GetOwnerBalance)
			r.Post("/payouts/bank-accounts", payoutsService.UpsertBankAccount)
			r.Post("/payouts/request", payoutsService.RequestPayout)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/wallet/post", walletService.PostJournal)
				r.Get("/wallet/balances", walletService.GetBalances)
				r.Get("/wallet/accounts/{accountId}", walletService.GetAccountDetail)
				r.Get("/wallet/trial-balance", walletService.GetTrialBalance)
				r.Get("/wallet/journal", walletService.GetJournal)

				r.Post("/orders/{orderId}/release", ordersService.Release)
				r.Post("/orders/{orderId}/release-split", ordersService.ReleaseSplit)

				r.Post("/payouts/{payoutId}/approve", payoutsService.ApprovePayout)
				r.Get("/payouts/{payoutId}/pacs008", isoService.ExportPayout)
			})
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
