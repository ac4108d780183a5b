// ttsapi/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ttsapi/api"
	"ttsapi/config"
	"ttsapi/task"
	"ttsapi/tts"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the synthesis engine (validates binary and checkpoints)
	engine, err := tts.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize synthesis engine: %v", err)
	}
	log.Printf("Model version: %s", tts.Version(engine, cfg.ModelVersionFallback))

	// 3. Initialize the task store and manager
	store := task.NewStore(cfg.OutputDir)
	manager, err := task.NewManager(cfg, store, engine)
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}

	// 4. Set up router and server
	router := api.SetupRouter(manager, engine, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
