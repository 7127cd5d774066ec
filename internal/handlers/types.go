package handlers

import (
	"net/http"

	"github.com/Brownie44l1/freshness-api/internal/inference"
	"github.com/Brownie44l1/freshness-api/internal/labels"
)

// TensorRequest carries a pre-normalized NHWC tensor.
type TensorRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	PredictedClass string  `json:"predicted_class"`
	Status         string  `json:"status"`
	Produce        string  `json:"produce"`
	Confidence     float32 `json:"confidence"`
	RequestID      string  `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path,omitempty"`
	ModelError  string `json:"model_error,omitempty"`
}

func newPredictionResponse(requestID string, pred labels.Prediction) PredictionResponse {
	return PredictionResponse{
		PredictedClass: pred.Label(),
		Status:         string(pred.Status),
		Produce:        pred.Produce,
		Confidence:     pred.Confidence,
		RequestID:      requestID,
	}
}

func newErrorResponse(requestID string, err error) ErrorResponse {
	return ErrorResponse{
		Error:     err.Error(),
		Kind:      inference.KindOf(err).String(),
		RequestID: requestID,
	}
}

// statusFor maps a pipeline failure to an HTTP status.
func statusFor(err error) int {
	switch inference.KindOf(err) {
	case inference.KindDecode:
		return http.StatusBadRequest
	case inference.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case inference.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
