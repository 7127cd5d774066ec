package model

import (
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxBackend owns one AdvancedSession. The session is bound to a single
// pair of input/output tensors, so runs are serialized.
type onnxBackend struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputShape   []int64
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newONNXBackend(opts Options, metadata Metadata) (*onnxBackend, error) {
	if opts.SharedLibPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxBackend{
		session:      session,
		inputShape:   slices.Clone(metadata.InputShape),
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (b *onnxBackend) InputShape() []int64 {
	return b.inputShape
}

func (b *onnxBackend) Infer(input []float32) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.inputTensor.GetData(), input)
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return slices.Clone(b.outputTensor.GetData()), nil
}

func (b *onnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inputTensor != nil {
		b.inputTensor.Destroy()
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
	}
	if b.session != nil {
		b.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
