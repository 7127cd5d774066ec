package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Brownie44l1/freshness-api/internal/app"
	"github.com/Brownie44l1/freshness-api/internal/config"
	"github.com/Brownie44l1/freshness-api/internal/handlers"
	"github.com/Brownie44l1/freshness-api/internal/telegram"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.TelegramBotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	a.StartRetention(ctx, time.Hour)

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal(err)
	}
	bot.Debug = false
	log.Printf("authorized as @%s", bot.Self.UserName)

	r := &telegram.Router{
		Bot:      bot,
		Pipeline: a.Pipeline,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		MaxBytes: cfg.MaxUploadBytes,
		Timeout:  a.Timeout,
	}
	if a.History != nil {
		r.History = a.History
	}

	// health endpoint for the platform, polling does not need it
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", handlers.NewHandler(handlers.Options{Pipeline: a.Pipeline, Model: a.Model}).Health)
		log.Printf("health server listening on %s/health", cfg.Addr())
		if err := http.ListenAndServe(cfg.Addr(), mux); err != nil {
			log.Printf("health server: %v", err)
		}
	}()

	telegram.Poll(ctx, bot, func(upd tgbotapi.Update) {
		r.HandleUpdate(ctx, upd)
	})
}
