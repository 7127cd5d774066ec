package inference

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/freshness-api/internal/labels"
	"github.com/Brownie44l1/freshness-api/internal/model"
)

type stubBackend struct {
	mu     sync.Mutex
	scores []float32
	err    error
	calls  int
	inputs [][]float32
}

func (s *stubBackend) Infer(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return append([]float32(nil), s.scores...), nil
}

func (s *stubBackend) InputShape() []int64 { return model.DefaultInputShape }

func (s *stubBackend) Close() error { return nil }

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// rawClassifier bypasses model.Handle validation.
type rawClassifier struct {
	scores []float32
}

func (r rawClassifier) IsLoaded() bool { return true }

func (r rawClassifier) Infer(model.Tensor) ([]float32, error) { return r.scores, nil }

func peaked(idx int, score float32) []float32 {
	v := make([]float32, 16)
	for i := range v {
		v[i] = 0.005
	}
	v[idx] = score
	return v
}

func solidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newPipeline(t *testing.T, c Classifier) *Pipeline {
	t.Helper()
	p, err := New(c, labels.Default(), nil)
	require.NoError(t, err)
	return p
}

func TestPredictEndToEnd(t *testing.T) {
	backend := &stubBackend{scores: peaked(5, 0.92)}
	p := newPipeline(t, model.NewHandle(backend, 16))

	pred, err := p.Predict(context.Background(), solidJPEG(t, 64, 64, color.RGBA{R: 250, G: 140, B: 20, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, labels.Fresh, pred.Status)
	assert.Equal(t, "Oranges", pred.Produce)
	assert.Equal(t, float32(0.92), pred.Confidence)
	assert.Equal(t, "Fresh Oranges", pred.Label())

	require.Equal(t, 1, backend.callCount())
	assert.Len(t, backend.inputs[0], 128*128*3)
}

func TestPredictModelUnavailable(t *testing.T) {
	for name, h := range map[string]*model.Handle{
		"unloaded": model.NewHandle(nil, 16),
		"failed":   model.Failed(errors.New("model file not found")),
	} {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(t, h)
			assert.False(t, p.Ready())

			for _, data := range [][]byte{solidJPEG(t, 8, 8, color.White), []byte("garbage")} {
				_, err := p.Predict(context.Background(), data)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrModelUnavailable)
				assert.Equal(t, KindModelUnavailable, KindOf(err))
			}

			_, err := p.PredictTensor(context.Background(), model.Tensor{})
			assert.ErrorIs(t, err, ErrModelUnavailable)
		})
	}
}

func TestPredictMalformedImage(t *testing.T) {
	backend := &stubBackend{scores: peaked(0, 1)}
	p := newPipeline(t, model.NewHandle(backend, 16))

	good := solidJPEG(t, 64, 64, color.White)
	for _, data := range [][]byte{nil, []byte("<html>"), good[:len(good)/2]} {
		_, err := p.Predict(context.Background(), data)
		require.Error(t, err)

		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, KindDecode, perr.Kind)
		assert.ErrorIs(t, err, ErrDecode)
		assert.NotErrorIs(t, err, ErrInference)
	}
	assert.Zero(t, backend.callCount())
}

func TestPredictInferenceError(t *testing.T) {
	backend := &stubBackend{err: errors.New("shape mismatch in layer dense_1")}
	h := model.NewHandle(backend, 16)
	p := newPipeline(t, h)

	_, err := p.Predict(context.Background(), solidJPEG(t, 32, 32, color.Black))
	assert.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "dense_1")
	assert.True(t, h.IsLoaded())

	backend.err = nil
	backend.scores = peaked(12, 0.7)
	pred, err := p.Predict(context.Background(), solidJPEG(t, 32, 32, color.Black))
	require.NoError(t, err)
	assert.Equal(t, labels.Rotten, pred.Status)
	assert.Equal(t, "Okra", pred.Produce)
}

func TestPredictNonFiniteScores(t *testing.T) {
	scores := peaked(3, 0.9)
	scores[4] = float32(math.Inf(1))
	p := newPipeline(t, model.NewHandle(&stubBackend{scores: scores}, 16))

	_, err := p.Predict(context.Background(), solidJPEG(t, 16, 16, color.White))
	assert.Equal(t, KindInference, KindOf(err))
}

func TestPredictScoresOutOfRange(t *testing.T) {
	scores := peaked(5, 7.5)
	scores[0] = -3
	p := newPipeline(t, model.NewHandle(&stubBackend{scores: scores}, 16))

	pred, err := p.Predict(context.Background(), solidJPEG(t, 16, 16, color.White))
	assert.Equal(t, KindInference, KindOf(err))
	assert.ErrorIs(t, err, model.ErrScoreRange)
	assert.Zero(t, pred.Confidence)
}

func TestPredictDecodeIndexError(t *testing.T) {
	scores := make([]float32, 20)
	scores[18] = 0.99
	p := newPipeline(t, rawClassifier{scores: scores})

	_, err := p.Predict(context.Background(), solidJPEG(t, 16, 16, color.White))
	assert.ErrorIs(t, err, ErrDecodeIndex)
	assert.ErrorIs(t, err, labels.ErrIndexOutOfRange)

	p = newPipeline(t, rawClassifier{})
	_, err = p.Predict(context.Background(), solidJPEG(t, 16, 16, color.White))
	assert.ErrorIs(t, err, ErrDecodeIndex)
}

func TestPredictCanceled(t *testing.T) {
	backend := &stubBackend{scores: peaked(1, 0.8)}
	p := newPipeline(t, model.NewHandle(backend, 16))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Predict(ctx, solidJPEG(t, 16, 16, color.White))
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.callCount())
}

func TestPredictTensor(t *testing.T) {
	p := newPipeline(t, model.NewHandle(&stubBackend{scores: peaked(15, 0.51)}, 16))

	tensor := model.Tensor{Shape: model.DefaultInputShape, Data: make([]float32, 128*128*3)}
	pred, err := p.PredictTensor(context.Background(), tensor)
	require.NoError(t, err)
	assert.Equal(t, "Rotten Tomato", pred.Label())

	_, err = p.PredictTensor(context.Background(), model.Tensor{Shape: model.DefaultInputShape, Data: []float32{1}})
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestPredictConcurrent(t *testing.T) {
	backend := &stubBackend{scores: peaked(9, 0.66)}
	p := newPipeline(t, model.NewHandle(backend, 16))
	data := solidJPEG(t, 40, 20, color.White)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pred, err := p.Predict(context.Background(), data)
			assert.NoError(t, err)
			assert.Equal(t, "Rotten Banana", pred.Label())
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, backend.callCount())
}

func TestNewRejectsMismatchedTable(t *testing.T) {
	table, err := labels.NewTable([]string{"freshapples", "rottenapples"})
	require.NoError(t, err)

	_, err = New(model.NewHandle(&stubBackend{}, 16), table, nil)
	assert.Error(t, err)

	_, err = New(nil, table, nil)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(errors.New("plain")))
	assert.Equal(t, "model_unavailable", KindModelUnavailable.String())
	assert.Equal(t, "decode_error", KindDecode.String())
}
