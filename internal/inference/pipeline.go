// Package inference runs one uploaded image through normalization, the
// classifier and label decoding.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/Brownie44l1/freshness-api/internal/labels"
	"github.com/Brownie44l1/freshness-api/internal/model"
	"github.com/Brownie44l1/freshness-api/internal/preprocess"
)

// Classifier is the read-only view of a loaded model. *model.Handle
// implements it.
type Classifier interface {
	IsLoaded() bool
	Infer(t model.Tensor) ([]float32, error)
}

// Pipeline holds no per-request state and may be shared by any number of
// goroutines.
type Pipeline struct {
	normalizer *preprocess.Normalizer
	classifier Classifier
	table      *labels.Table
}

// New validates that a loaded classifier reporting its output size agrees
// with table. A nil normalizer gets the defaults.
func New(classifier Classifier, table *labels.Table, normalizer *preprocess.Normalizer) (*Pipeline, error) {
	if classifier == nil {
		return nil, errors.New("inference: nil classifier")
	}
	if table == nil {
		return nil, errors.New("inference: nil label table")
	}
	if normalizer == nil {
		normalizer = preprocess.New()
	}
	if sized, ok := classifier.(interface{ Outputs() int }); ok && classifier.IsLoaded() {
		if sized.Outputs() != table.Len() {
			return nil, fmt.Errorf("inference: classifier has %d outputs, label table has %d", sized.Outputs(), table.Len())
		}
	}
	return &Pipeline{normalizer: normalizer, classifier: classifier, table: table}, nil
}

// Ready reports whether requests can succeed at all.
func (p *Pipeline) Ready() bool {
	return p.classifier.IsLoaded()
}

// Predict classifies an encoded image. Errors are always *Error.
func (p *Pipeline) Predict(ctx context.Context, data []byte) (labels.Prediction, error) {
	if err := p.Check(ctx); err != nil {
		return labels.Prediction{}, err
	}

	tensor, err := p.normalizer.Normalize(data)
	if err != nil {
		return labels.Prediction{}, newError(KindDecode, "cannot decode image", err)
	}

	return p.PredictTensor(ctx, tensor)
}

// PredictTensor classifies an already normalized tensor.
func (p *Pipeline) PredictTensor(ctx context.Context, tensor model.Tensor) (labels.Prediction, error) {
	if err := p.Check(ctx); err != nil {
		return labels.Prediction{}, err
	}

	scores, err := p.classifier.Infer(tensor)
	if err != nil {
		if errors.Is(err, model.ErrModelUnavailable) {
			return labels.Prediction{}, newError(KindModelUnavailable, "model not loaded on server", err)
		}
		return labels.Prediction{}, newError(KindInference, "prediction failed", err)
	}

	pred, err := p.table.Decode(scores)
	if err != nil {
		return labels.Prediction{}, newError(KindDecodeIndex, "cannot map prediction to a label", err)
	}
	return pred, nil
}

// Check fails with ModelUnavailable or Canceled before any work is done.
func (p *Pipeline) Check(ctx context.Context) error {
	if !p.classifier.IsLoaded() {
		var reason error
		if h, ok := p.classifier.(interface{ Err() error }); ok {
			reason = h.Err()
		}
		return newError(KindModelUnavailable, "model not loaded on server", reason)
	}
	if err := ctx.Err(); err != nil {
		return newError(KindCanceled, "request deadline reached", err)
	}
	return nil
}
