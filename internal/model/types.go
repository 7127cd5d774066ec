package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const (
	ImageSize = 128
	Channels  = 3
)

// DefaultInputShape is the NHWC layout the fruit classifier was trained on.
var DefaultInputShape = []int64{1, ImageSize, ImageSize, Channels}

// Metadata describes an artifact. It is read from an optional JSON file
// shipped next to the model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Elements returns the element count implied by shape.
func Elements(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	if want := Elements(t.Shape); want != len(t.Data) {
		return fmt.Errorf("tensor shape %v needs %d values, got %d", t.Shape, want, len(t.Data))
	}
	return nil
}

func defaultMetadata(outputs int) Metadata {
	return Metadata{
		InputShape:  append([]int64(nil), DefaultInputShape...),
		OutputShape: []int64{1, int64(outputs)},
		ImageSize:   ImageSize,
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads path and fills unset fields from the defaults. A
// missing file is not an error.
func LoadMetadata(path string, outputs int) (Metadata, error) {
	metadata := defaultMetadata(outputs)
	if path == "" {
		return metadata, nil
	}

	metaFile, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return metadata, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var fromFile Metadata
	if err := json.Unmarshal(metaFile, &fromFile); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if len(fromFile.InputShape) > 0 {
		metadata.InputShape = fromFile.InputShape
	}
	if len(fromFile.OutputShape) > 0 {
		metadata.OutputShape = fromFile.OutputShape
	}
	if fromFile.ImageSize > 0 {
		metadata.ImageSize = fromFile.ImageSize
	}
	if fromFile.InputName != "" {
		metadata.InputName = fromFile.InputName
	}
	if fromFile.OutputName != "" {
		metadata.OutputName = fromFile.OutputName
	}
	metadata.Classes = fromFile.Classes
	return metadata, nil
}
