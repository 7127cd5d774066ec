package model

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Brownie44l1/freshness-api/internal/labels"
)

var (
	ErrModelUnavailable  = errors.New("model not loaded on server")
	ErrUnsupportedFormat = errors.New("unsupported model format")
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrNonFinite         = errors.New("non-finite score in model output")
	ErrScoreRange        = errors.New("model score outside [0,1]")
)

type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// Backend runs a loaded artifact. Implementations must be safe for
// concurrent use.
type Backend interface {
	Infer(input []float32) ([]float32, error)
	InputShape() []int64
	Close() error
}

type Options struct {
	ModelPath     string
	MetadataPath  string
	SharedLibPath string
	NumThreads    int
}

// Handle is the process-wide classifier. Its fields are set once by the
// constructor and only read afterwards.
type Handle struct {
	backend Backend
	state   State
	err     error
	path    string
	outputs int
}

// Load makes the single load attempt for opts.ModelPath. It never fails:
// any problem leaves the handle in StateFailed with the reason in Err.
func Load(opts Options, table *labels.Table) *Handle {
	log.Printf("Loading model from: %s", opts.ModelPath)

	backend, err := openBackend(opts, table)
	if err != nil {
		log.Printf("Model load failed: %v", err)
		return &Handle{state: StateFailed, err: err, path: opts.ModelPath}
	}

	log.Printf("Model loaded: %s (%d classes)", opts.ModelPath, table.Len())
	return &Handle{backend: backend, state: StateLoaded, path: opts.ModelPath, outputs: table.Len()}
}

// NewHandle wraps an already constructed backend that produces outputs
// scores per call.
func NewHandle(backend Backend, outputs int) *Handle {
	if backend == nil {
		return &Handle{}
	}
	return &Handle{backend: backend, state: StateLoaded, outputs: outputs}
}

// Failed returns a handle that reports reason for every call.
func Failed(reason error) *Handle {
	return &Handle{state: StateFailed, err: reason}
}

func openBackend(opts Options, table *labels.Table) (Backend, error) {
	metadata, err := LoadMetadata(opts.MetadataPath, table.Len())
	if err != nil {
		return nil, err
	}
	if len(metadata.Classes) > 0 && !table.Matches(metadata.Classes) {
		return nil, fmt.Errorf("%w: artifact classes %v do not match label table", ErrShapeMismatch, metadata.Classes)
	}
	if got := Elements(metadata.OutputShape); got != table.Len() {
		return nil, fmt.Errorf("%w: artifact declares %d outputs, label table has %d", ErrShapeMismatch, got, table.Len())
	}
	if !slices.Equal(metadata.InputShape, DefaultInputShape) {
		return nil, fmt.Errorf("%w: artifact input %v, expected %v", ErrShapeMismatch, metadata.InputShape, DefaultInputShape)
	}

	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found at %s: %w", opts.ModelPath, err)
	}

	switch ext := strings.ToLower(filepath.Ext(opts.ModelPath)); ext {
	case ".onnx":
		return newONNXBackend(opts, metadata)
	case ".tflite":
		return newTFLiteBackend(opts, metadata)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func (h *Handle) State() State { return h.state }

func (h *Handle) IsLoaded() bool { return h.state == StateLoaded }

// Err is the recorded load failure, if any.
func (h *Handle) Err() error { return h.err }

func (h *Handle) Path() string { return h.path }

// Outputs is the number of scores Infer returns.
func (h *Handle) Outputs() int { return h.outputs }

// Infer runs the classifier on t and returns one score per class.
func (h *Handle) Infer(t Tensor) ([]float32, error) {
	if !h.IsLoaded() {
		if h.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, h.err)
		}
		return nil, ErrModelUnavailable
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if want := h.backend.InputShape(); !slices.Equal(t.Shape, want) {
		return nil, fmt.Errorf("%w: input %v, model expects %v", ErrShapeMismatch, t.Shape, want)
	}

	scores, err := h.backend.Infer(t.Data)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(scores) != h.outputs {
		return nil, fmt.Errorf("%w: model returned %d scores, expected %d", ErrShapeMismatch, len(scores), h.outputs)
	}
	for i, s := range scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, fmt.Errorf("%w: index %d", ErrNonFinite, i)
		}
		if s < 0 || s > 1 {
			return nil, fmt.Errorf("%w: index %d is %v", ErrScoreRange, i, s)
		}
	}
	return scores, nil
}

func (h *Handle) Close() error {
	if h.backend == nil {
		return nil
	}
	return h.backend.Close()
}
