package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"martstock-api/internal/config"
	"martstock-api/internal/handler"
	"martstock-api/internal/middleware"
	"martstock-api/internal/repository"
	"martstock-api/internal/router"
	"martstock-api/internal/service"
	"martstock-api/internal/stream"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting MartStock API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize durable store based on config
	var store repository.Store
	switch cfg.Store.Type {
	case "mysql":
		db, err := sql.Open("mysql", cfg.Store.MySQLDSN())
		if err != nil {
			log.Fatalf("Failed to open MySQL: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		mysqlStore, err := repository.NewMySQLStore(db)
		if err != nil {
			log.Fatalf("Failed to initialize MySQL store: %v", err)
		}
		store = mysqlStore
		log.Println("MySQL store initialized")
	default: // sqlite
		sqliteStore, err := repository.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite store: %v", err)
		}
		store = sqliteStore
		log.Println("SQLite store initialized")
	}
	defer store.Close()

	// Initialize Redis client for the change channel and sessions
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Stream.RedisAddress(),
		Password: cfg.Stream.Password,
		DB:       cfg.Stream.DB,
	})
	defer redisClient.Close()

	// Connectivity monitor: starts offline, first check decides the initial
	// state before the engine loads.
	monitor := stream.NewMonitor(stream.RedisPinger{Client: redisClient}, cfg.Stream.PingInterval)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if monitor.CheckNow(pingCtx) {
		log.Println("Change channel reachable")
	} else {
		log.Println("Warning: change channel unreachable, starting offline")
	}
	pingCancel()
	monitor.Start()

	// Change stream plumbing
	subscriber := stream.NewSubscriber(redisClient, cfg.Stream.Channel, monitor, cfg.Engine.ApplyQueueSize)
	subscriber.Start()
	publisher := stream.NewPublisher(redisClient, cfg.Stream.Channel)

	// Inventory engine: initial full load plus the apply loop
	engine := service.NewEngine(service.EngineOptions{
		Store:       store,
		Publisher:   publisher,
		Monitor:     monitor,
		Events:      subscriber.Events(),
		QueueSize:   cfg.Engine.ApplyQueueSize,
		LoadTimeout: cfg.Engine.LoadTimeout,
	})
	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.Engine.LoadTimeout)
	if err := engine.Start(startCtx); err != nil {
		// Engine stays up in the load-error state; operators retry via the
		// admin reload endpoint.
		log.Printf("Warning: initial load failed, serving in load-error state: %v", err)
	}
	startCancel()

	// Periodic full resync keeps the cache honest across missed events
	resyncScheduler := service.NewResyncScheduler(engine.Resync, service.ResyncConfig{
		Interval: cfg.Engine.ResyncInterval,
	})
	resyncScheduler.Start()

	// Session service
	sessionService := service.NewSessionService(redisClient, cfg.Session.TTL)

	// Initialize handlers
	healthHandler := handler.New(engine)
	inventoryHandler := handler.NewInventoryHandler(engine)
	auditHandler := handler.NewAuditHandler(engine)
	adminHandler := handler.NewAdminHandler(engine, resyncScheduler)
	authHandler := handler.NewAuthHandler(sessionService, cfg.Session)

	// Create auth middleware with injected dependencies (NO GLOBALS!)
	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		SessionService: sessionService,
	})

	// Create router
	r := router.New(router.Config{
		Handler:          healthHandler,
		InventoryHandler: inventoryHandler,
		AuditHandler:     auditHandler,
		AdminHandler:     adminHandler,
		AuthHandler:      authHandler,
		AuthMiddleware:   authMiddleware,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Stop event producers before the apply loop that drains them
	resyncScheduler.Stop()
	subscriber.Close()
	monitor.Close()
	engine.Close()

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}
