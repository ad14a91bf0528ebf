package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/CrowderSoup/email-collector/database"
	"github.com/CrowderSoup/email-collector/handlers"
	"github.com/CrowderSoup/email-collector/services"
)

func main() {
	// Load environment variables from .env file
	if err := services.LoadEnv(".env"); err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg, err := services.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.InsecureSecret() {
		log.Printf("Warning: JWT_SECRET is not set, using the default secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.InitDB(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService, err := services.NewAuthService(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}
	entryService := database.NewEntryService(db)

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, authService, entryService, hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s (%s, %s)", cfg.Port, cfg.Environment, cfg.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

func newRouter(cfg *services.Config, authService *services.AuthService, entryService *database.EntryService, hub *services.Hub) http.Handler {
	authMiddleware := handlers.NewAuthMiddleware(authService)
	authHandler := handlers.NewAuthHandler(authService)
	entryHandler := handlers.NewEntryHandler(entryService, hub)
	healthHandler := handlers.NewHealthHandler(entryService, hub, cfg.Environment)
	sessionHandler := handlers.NewSessionHandler(entryService, cfg, hub)

	r := mux.NewRouter()

	// Public routes
	r.HandleFunc("/api/health", healthHandler.Health).Methods("GET", "HEAD")
	r.HandleFunc("/api/keep-alive", healthHandler.KeepAlive).Methods("GET", "POST")
	r.HandleFunc("/api/auth/pin", authHandler.Login).Methods("POST")

	// Protected routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)

	api.HandleFunc("/auth/verify", authHandler.VerifyToken).Methods("GET")
	api.HandleFunc("/entries", entryHandler.List).Methods("GET")
	api.HandleFunc("/entries", entryHandler.Create).Methods("POST")
	api.HandleFunc("/entries", entryHandler.DeleteAll).Methods("DELETE")
	api.HandleFunc("/entries/search", entryHandler.Search).Methods("GET")
	api.HandleFunc("/entries/reorder", entryHandler.Reorder).Methods("PUT")
	api.HandleFunc("/entries/import", entryHandler.Import).Methods("POST")
	api.HandleFunc("/entries/export", entryHandler.Export).Methods("GET")
	api.HandleFunc("/entries/{id:[0-9]+}", entryHandler.Update).Methods("PUT")
	api.HandleFunc("/entries/{id:[0-9]+}", entryHandler.Delete).Methods("DELETE")

	// WebSocket route for the reorder session
	api.HandleFunc("/ws", sessionHandler.HandleWebSocket)

	// Static file server for the frontend
	if cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}
