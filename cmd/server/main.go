package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/Brownie44l1/freshness-api/internal/app"
	"github.com/Brownie44l1/freshness-api/internal/config"
	"github.com/Brownie44l1/freshness-api/internal/handlers"
	"github.com/Brownie44l1/freshness-api/internal/labels"
	"github.com/Brownie44l1/freshness-api/internal/uploads"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	a.StartRetention(ctx, time.Hour)

	opts := handlers.Options{
		Pipeline:       a.Pipeline,
		Model:          a.Model,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Timeout:        a.Timeout,
	}
	if a.History != nil {
		opts.History = a.History
	}
	if cfg.UploadDir != "" {
		store, err := uploads.New(cfg.UploadDir)
		if err != nil {
			log.Fatalf("Failed to prepare upload dir: %v", err)
		}
		opts.Uploads = store
		log.Printf("Archiving uploads to %s", store.Dir())
	}

	mux := http.NewServeMux()
	handlers.NewHandler(opts).Register(mux)

	log.Printf("Server starting on port %s", cfg.Port)
	if a.Model.IsLoaded() {
		log.Printf("Model loaded: %s", a.Model.Path())
	} else {
		log.Printf("⚠️ Model not loaded (%v); /predict will answer 503", a.Model.Err())
	}
	log.Printf("Classes: %v", labels.Default().Tags())
	log.Println("Endpoints:")
	log.Println("  GET  /health         - Health check")
	log.Println("  POST /predict        - Predict from image upload")
	log.Println("  POST /predict/tensor - Predict from a normalized [1,128,128,3] array")
	log.Println("  GET  /history        - Recent predictions")
	log.Println("  GET  /ws             - Websocket, one binary image per message")
	log.Printf("\n💡 Upload test: curl -X POST -F \"file=@apple.jpg\" http://localhost:%s/predict\n\n", cfg.Port)

	if err := http.ListenAndServe(cfg.Addr(), mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
