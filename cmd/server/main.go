package main

import (
	"context"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	graphragagent "github.com/prasannaarjun/graphrag-agent"
	"github.com/prasannaarjun/graphrag-agent/internal/api"
	"github.com/prasannaarjun/graphrag-agent/internal/handlers"
	"github.com/prasannaarjun/graphrag-agent/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfgPath := os.Getenv("GRAPHRAG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	boltDB, err := services.NewBoltDB(cfg.DBPath, cfg.APIToken)
	if err != nil {
		log.Fatalf("failed to open local store: %v", err)
	}
	defer boltDB.Close()

	backend := api.NewClient(strings.TrimRight(cfg.BackendURL, "/"), boltDB, logger)

	m, err := handlers.NewMain(backend, boltDB, logger)
	if err != nil {
		log.Fatalf("failed to create handlers: %v", err)
	}

	staticFS, err := fs.Sub(graphragagent.StaticFS, "static")
	if err != nil {
		log.Fatalf("failed to mount static assets: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/", m.HandleHome)
	r.Get("/chat", m.HandleChatPage)
	r.Post("/chat/messages", m.HandleChatMessage)
	r.Post("/chat/cancel", m.HandleCancel)
	r.Post("/chat/new", m.HandleNewChat)
	r.Post("/conversations/{id}/delete", m.HandleDeleteConversation)
	r.Get("/documents", m.HandleDocuments)
	r.Post("/documents/upload", m.HandleUpload)
	r.Post("/documents/{id}/delete", m.HandleDeleteDocument)
	r.Get("/settings", m.HandleSettings)
	r.Post("/settings", m.HandleSaveSettings)
	r.Get("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Println("Server starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Printf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}

func logLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
