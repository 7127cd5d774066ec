// Package telegram answers produce photos sent to a Telegram bot with the
// same pipeline the HTTP server uses.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/Brownie44l1/freshness-api/internal/inference"
	"github.com/Brownie44l1/freshness-api/internal/labels"
	"github.com/Brownie44l1/freshness-api/internal/store"
)

const (
	defaultMaxBytes = 10 << 20
	defaultTimeout  = 30 * time.Second
)

var errTooLarge = errors.New("file is too large")

// Bot is the subset of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Recorder interface {
	Insert(ctx context.Context, rec store.Record) error
}

type Router struct {
	Bot      Bot
	Pipeline *inference.Pipeline
	History  Recorder
	HTTP     *http.Client
	MaxBytes int64
	Timeout  time.Duration
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	cid := msg.Chat.ID

	if msg.IsCommand() {
		r.handleCommand(msg)
		return
	}

	fileID, name := imageFile(msg)
	if fileID == "" {
		r.reply(cid, msg.MessageID, "Send me a photo of a fruit or vegetable and I will tell you if it is fresh.")
		return
	}
	r.classify(ctx, msg, fileID, name)
}

func (r *Router) handleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.reply(cid, msg.MessageID, "Send a photo of apples, bananas, capsicum, cucumber, okra, oranges, potato or tomato. I will answer Fresh or Rotten with a confidence.")
	case "health":
		if r.Pipeline.Ready() {
			r.reply(cid, msg.MessageID, "✅ OK, model loaded")
		} else {
			r.reply(cid, msg.MessageID, "⚠️ Model not loaded")
		}
	default:
		r.reply(cid, msg.MessageID, "Unknown command")
	}
}

// imageFile picks the largest photo size, or an image document.
func imageFile(msg *tgbotapi.Message) (fileID, name string) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, "photo.jpg"
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return d.FileID, d.FileName
	}
	return "", ""
}

func (r *Router) classify(ctx context.Context, msg *tgbotapi.Message, fileID, name string) {
	cid := msg.Chat.ID
	reqID := uuid.New().String()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.Pipeline.Check(ctx); err != nil {
		log.Printf("[%s] telegram chat %d: %v", reqID, cid, err)
		r.reply(cid, msg.MessageID, FormatError(err))
		return
	}

	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		log.Printf("[%s] telegram get file: %v", reqID, err)
		r.reply(cid, msg.MessageID, "Could not fetch the photo from Telegram, please try again.")
		return
	}
	data, err := r.download(ctx, url)
	if err != nil {
		log.Printf("[%s] telegram download: %v", reqID, err)
		r.reply(cid, msg.MessageID, "Could not fetch the photo from Telegram, please try again.")
		return
	}

	pred, err := r.Pipeline.Predict(ctx, data)
	if err != nil {
		log.Printf("[%s] Prediction error (%s): %v", reqID, inference.KindOf(err), err)
		r.reply(cid, msg.MessageID, FormatError(err))
		return
	}

	log.Printf("[%s] telegram chat %d: %s (%.4f)", reqID, cid, pred.Label(), pred.Confidence)
	r.record(reqID, name, pred)
	r.reply(cid, msg.MessageID, FormatPrediction(pred))
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	client := r.HTTP
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	maxBytes := r.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errTooLarge
	}
	return data, nil
}

func (r *Router) record(reqID, name string, pred labels.Prediction) {
	if r.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.History.Insert(ctx, store.Record{
		RequestID:  reqID,
		Source:     "telegram",
		Filename:   name,
		Status:     string(pred.Status),
		Produce:    pred.Produce,
		Confidence: float64(pred.Confidence),
	})
	if err != nil {
		log.Printf("[%s] Warning: failed to record prediction: %v", reqID, err)
	}
}

func (r *Router) reply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	if _, err := r.Bot.Send(msg); err != nil {
		log.Printf("telegram send to %d: %v", chatID, err)
	}
}

func FormatPrediction(pred labels.Prediction) string {
	icon := "🍏"
	if pred.Status == labels.Rotten {
		icon = "🍂"
	}
	return fmt.Sprintf("%s %s — confidence %.1f%%", icon, pred.Label(), pred.Confidence*100)
}

func FormatError(err error) string {
	switch inference.KindOf(err) {
	case inference.KindDecode:
		return "I couldn't read that image. Please send a JPEG or PNG photo."
	case inference.KindModelUnavailable:
		return "The classifier is not available right now. Please try again later."
	case inference.KindCanceled:
		return "That took too long, please try again."
	default:
		return "Prediction failed, please try another photo."
	}
}
