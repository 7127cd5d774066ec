package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Brownie44l1/freshness-api/internal/inference"
	"github.com/Brownie44l1/freshness-api/internal/labels"
	"github.com/Brownie44l1/freshness-api/internal/model"
	"github.com/Brownie44l1/freshness-api/internal/store"
	"github.com/Brownie44l1/freshness-api/internal/uploads"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultTimeout        = 30 * time.Second
)

// formFields are tried in order; "file" is what the web page posts.
var formFields = []string{"file", "image"}

var (
	errNoFile        = errors.New("no file uploaded")
	errEmptyFilename = errors.New("empty filename")
)

// ModelStatus is what the health endpoint reports on.
type ModelStatus interface {
	IsLoaded() bool
	Err() error
	Path() string
}

// History persists completed predictions.
type History interface {
	Insert(ctx context.Context, rec store.Record) error
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

type Options struct {
	Pipeline       *inference.Pipeline
	Model          ModelStatus
	Uploads        *uploads.Store
	History        History
	MaxUploadBytes int64
	Timeout        time.Duration
}

type Handler struct {
	pipeline       *inference.Pipeline
	model          ModelStatus
	uploads        *uploads.Store
	history        History
	maxUploadBytes int64
	timeout        time.Duration
	upgrader       websocket.Upgrader
}

func NewHandler(opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Handler{
		pipeline:       opts.Pipeline,
		model:          opts.Model,
		uploads:        opts.Uploads,
		history:        opts.History,
		maxUploadBytes: opts.MaxUploadBytes,
		timeout:        opts.Timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/predict", EnableCORS(h.Predict))
	mux.HandleFunc("/predict/tensor", EnableCORS(h.PredictTensor))
	mux.HandleFunc("/history", EnableCORS(h.History))
	mux.HandleFunc("/ws", h.Stream)
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, requestID, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, RequestID: requestID})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if h.model != nil {
		resp.ModelLoaded = h.model.IsLoaded()
		resp.ModelPath = h.model.Path()
		if err := h.model.Err(); err != nil {
			resp.ModelError = err.Error()
		}
	}
	if !resp.ModelLoaded {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Predict classifies a multipart upload.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reqID := uuid.New()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.pipeline.Check(ctx); err != nil {
		h.fail(w, reqID.String(), err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, reqID.String(),
				fmt.Sprintf("Upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		writeMessage(w, http.StatusBadRequest, reqID.String(), "Failed to parse form")
		return
	}

	file, header, err := formFile(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, reqID.String(), err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, reqID.String(), "Failed to read upload")
		return
	}

	log.Printf("[%s] Received file: %q, size: %d bytes", reqID, header.Filename, len(data))
	h.archive(reqID, header.Filename, data)

	pred, err := h.pipeline.Predict(ctx, data)
	if err != nil {
		h.fail(w, reqID.String(), err)
		return
	}

	log.Printf("[%s] Prediction: %s (%.4f)", reqID, pred.Label(), pred.Confidence)
	h.record(reqID.String(), "http", header.Filename, pred)
	writeJSON(w, http.StatusOK, newPredictionResponse(reqID.String(), pred))
}

// formFile returns the first uploaded file among formFields. A part sent
// with an empty filename arrives as a plain value.
func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range formFields {
		file, header, err := r.FormFile(field)
		if err == nil {
			if header.Filename == "" {
				file.Close()
				return nil, nil, errEmptyFilename
			}
			return file, header, nil
		}
	}
	if r.MultipartForm != nil {
		for _, field := range formFields {
			if _, ok := r.MultipartForm.Value[field]; ok {
				return nil, nil, errEmptyFilename
			}
		}
	}
	return nil, nil, errNoFile
}

// PredictTensor classifies a tensor the client already normalized.
func (h *Handler) PredictTensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reqID := uuid.New().String()

	var req TensorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, reqID, "Invalid JSON")
		return
	}

	expectedSize := model.Elements(model.DefaultInputShape)
	if len(req.Image) != expectedSize {
		writeMessage(w, http.StatusBadRequest, reqID,
			fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)))
		return
	}
	for i, v := range req.Image {
		if v < 0 || v > 1 {
			writeMessage(w, http.StatusBadRequest, reqID, fmt.Sprintf("Value %d out of [0,1]: %v", i, v))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tensor := model.Tensor{Shape: model.DefaultInputShape, Data: req.Image}
	pred, err := h.pipeline.PredictTensor(ctx, tensor)
	if err != nil {
		h.fail(w, reqID, err)
		return
	}

	h.record(reqID, "tensor", "", pred)
	writeJSON(w, http.StatusOK, newPredictionResponse(reqID, pred))
}

// History lists recent predictions.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		writeMessage(w, http.StatusNotFound, "", "History is not enabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("History query error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "", "History query failed")
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": records})
}

func (h *Handler) fail(w http.ResponseWriter, reqID string, err error) {
	log.Printf("[%s] Prediction error (%s): %v", reqID, inference.KindOf(err), err)
	writeJSON(w, statusFor(err), newErrorResponse(reqID, err))
}

func (h *Handler) archive(reqID uuid.UUID, filename string, data []byte) {
	if h.uploads == nil {
		return
	}
	if _, err := h.uploads.Save(reqID, filename, data); err != nil {
		log.Printf("[%s] Warning: %v", reqID, err)
	}
}

func (h *Handler) record(reqID, source, filename string, pred labels.Prediction) {
	if h.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := h.history.Insert(ctx, store.Record{
		RequestID:  reqID,
		Source:     source,
		Filename:   filename,
		Status:     string(pred.Status),
		Produce:    pred.Produce,
		Confidence: float64(pred.Confidence),
	})
	if err != nil {
		log.Printf("[%s] Warning: failed to record prediction: %v", reqID, err)
	}
}
