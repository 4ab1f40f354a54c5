package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omfinance.app/advisor/internal/api"
	"omfinance.app/advisor/internal/config"
	"omfinance.app/advisor/internal/core"
	"omfinance.app/advisor/internal/ratelimit"
	"omfinance.app/advisor/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	providerCfg := core.ProviderConfig{
		FallbackAPIKey:  config.AppConfig.FallbackAPIKey,
		FallbackBaseURL: config.AppConfig.FallbackBaseURL,
		FallbackModel:   config.AppConfig.FallbackModel,
		Timeout:         time.Duration(config.AppConfig.ProviderTimeoutSecs) * time.Second,
	}

	// Assemble the advisor pipeline
	contexts := core.NewContextBuilder(dbStore, core.DefaultAggregatorConfig())
	threads := core.NewThreads(dbStore)
	selector := core.NewProviderSelector(dbStore, providerCfg)
	provider := core.NewProviderClient(providerCfg)
	limiter := ratelimit.NewLocalLimiter(config.AppConfig.RateLimitPerMinute, config.AppConfig.RateLimitBurst)
	advisorService := core.NewAdvisorService(contexts, threads, selector, provider, limiter)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(advisorService, dbStore)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: advisor responses stream for as long as the
		// provider keeps producing tokens.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received
	log.Println("Shutting down server...")

	// Give active connections (including in-flight streams) time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
