package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neuroscan/backend/internal/metrics"
)

const engineCallTimeout = 120 * time.Second

// HTTPEngine calls a remote inference service over JSON/HTTP.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: engineCallTimeout},
	}
}

var _ Engine = (*HTTPEngine)(nil)

type segmentRequest struct {
	InputRef  string `json:"input_ref"`
	BrainMask string `json:"brain_mask,omitempty"`
}

type segmentResponse struct {
	Mask string `json:"mask"`
}

func (e *HTTPEngine) PredictImage(ctx context.Context, inputRef string) ([]byte, error) {
	return e.call(ctx, "image", segmentRequest{InputRef: inputRef})
}

func (e *HTTPEngine) SegmentBrain(ctx context.Context, scanRef string) ([]byte, error) {
	return e.call(ctx, "brain", segmentRequest{InputRef: scanRef})
}

func (e *HTTPEngine) SegmentAneurysm(ctx context.Context, scanRef string, brainMask []byte) ([]byte, error) {
	return e.call(ctx, "aneurysm", segmentRequest{
		InputRef:  scanRef,
		BrainMask: base64.StdEncoding.EncodeToString(brainMask),
	})
}

func (e *HTTPEngine) call(ctx context.Context, op string, payload segmentRequest) ([]byte, error) {
	timer := prometheus.NewTimer(metrics.InferenceDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/segment/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Network failure or timeout: the engine may be fine, retry later.
		return nil, &EngineError{Op: op, Transient: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &EngineError{Op: op, Status: resp.StatusCode, Transient: false, Msg: "engine rejected input"}
	default:
		return nil, &EngineError{Op: op, Status: resp.StatusCode, Transient: true, Msg: "engine unavailable"}
	}

	var out segmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &EngineError{Op: op, Status: resp.StatusCode, Transient: true, Msg: "invalid engine response"}
	}
	mask, err := base64.StdEncoding.DecodeString(out.Mask)
	if err != nil {
		return nil, &EngineError{Op: op, Status: resp.StatusCode, Transient: true, Msg: "undecodable mask payload"}
	}
	return mask, nil
}
