package model

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/mattn/go-tflite"
)

// tfliteBackend wraps a single interpreter. Interpreters are not reentrant.
type tfliteBackend struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputShape  []int64
}

func newTFLiteBackend(opts Options, metadata Metadata) (*tfliteBackend, error) {
	m := tflite.NewModelFromFile(opts.ModelPath)
	if m == nil {
		return nil, fmt.Errorf("cannot load tflite model %s", opts.ModelPath)
	}

	threads := opts.NumThreads
	if threads <= 0 {
		threads = 1
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.Printf("tflite: %s", msg)
	}, nil)

	b := &tfliteBackend{model: m, options: options}

	b.interpreter = tflite.NewInterpreter(m, options)
	if b.interpreter == nil {
		b.Close()
		return nil, errors.New("cannot create tflite interpreter")
	}
	if status := b.interpreter.AllocateTensors(); status != tflite.OK {
		b.Close()
		return nil, fmt.Errorf("tflite allocate tensors: status %v", status)
	}

	input := b.interpreter.GetInputTensor(0)
	if input == nil || input.Type() != tflite.Float32 {
		b.Close()
		return nil, fmt.Errorf("%w: tflite input must be float32", ErrShapeMismatch)
	}
	for i := 0; i < input.NumDims(); i++ {
		b.inputShape = append(b.inputShape, int64(input.Dim(i)))
	}
	if !slices.Equal(b.inputShape, metadata.InputShape) {
		b.Close()
		return nil, fmt.Errorf("%w: tflite input %v, expected %v", ErrShapeMismatch, b.inputShape, metadata.InputShape)
	}

	output := b.interpreter.GetOutputTensor(0)
	if output == nil || output.Type() != tflite.Float32 {
		b.Close()
		return nil, fmt.Errorf("%w: tflite output must be float32", ErrShapeMismatch)
	}
	if got, want := len(output.Float32s()), Elements(metadata.OutputShape); got != want {
		b.Close()
		return nil, fmt.Errorf("%w: tflite output has %d values, expected %d", ErrShapeMismatch, got, want)
	}

	return b, nil
}

func (b *tfliteBackend) InputShape() []int64 {
	return b.inputShape
}

func (b *tfliteBackend) Infer(input []float32) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.interpreter.GetInputTensor(0).Float32s(), input)
	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tflite invoke: status %v", status)
	}
	return slices.Clone(b.interpreter.GetOutputTensor(0).Float32s()), nil
}

func (b *tfliteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.interpreter != nil {
		b.interpreter.Delete()
		b.interpreter = nil
	}
	if b.options != nil {
		b.options.Delete()
		b.options = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
	return nil
}
