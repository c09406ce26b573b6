package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// TransportConfig holds client configuration.
type TransportConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64 // 0 disables rate limiting
	Burst      int
	Headers    http.Header
}

// SubmitResponse is the body of an accepted submission.
type SubmitResponse struct {
	TrackingID string          `json:"trackingId"`
	Message    string          `json:"message"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// errorBody is the shape of a rejected request. The API nests the detail as
// {"error":{"ErrorKey","Message"}}; older endpoints send a bare string in
// error with errorKey and message alongside it.
type errorBody struct {
	Error    json.RawMessage `json:"error"`
	ErrorKey string          `json:"errorKey"`
	Message  string          `json:"message"`
}

type errorDetail struct {
	ErrorKey string `json:"ErrorKey"`
	Message  string `json:"Message"`
}

// present reports whether an error member carries a value.
func present(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", `""`:
		return false
	}
	return true
}

// parseError extracts the error key and message from a rejected body. ok is
// false when raw is not JSON or carries no error information.
func parseError(raw []byte) (key, msg string, ok bool) {
	var eb errorBody
	if json.Unmarshal(raw, &eb) != nil {
		return "", "", false
	}
	key, msg = eb.ErrorKey, eb.Message
	if present(eb.Error) {
		var nested errorDetail
		var flat string
		switch {
		case json.Unmarshal(eb.Error, &nested) == nil:
			if nested.ErrorKey != "" {
				key = nested.ErrorKey
			}
			if nested.Message != "" {
				msg = nested.Message
			}
		case json.Unmarshal(eb.Error, &flat) == nil:
			if key == "" {
				key = flat
			}
		}
	}
	return key, msg, key != "" || msg != ""
}

// Transport is the request/response side of the exchange API.
type Transport struct {
	baseURL    string
	headers    http.Header
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
	metrics    *Metrics
}

// NewTransport creates a Transport. log and metrics may be nil.
func NewTransport(cfg TransportConfig, log *slog.Logger, metrics *Metrics) *Transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		log:        log,
		metrics:    metrics,
	}
}

// Post sends body to endpoint and returns the submission response.
func (t *Transport) Post(ctx context.Context, endpoint string, body any) (SubmitResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("gateway: encode request: %w", err)
	}

	raw, err := t.do(ctx, http.MethodPost, endpoint, nil, data)
	if err != nil {
		return SubmitResponse{}, err
	}

	var resp SubmitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SubmitResponse{}, fmt.Errorf("gateway: decode response from %s: %w", endpoint, err)
	}
	if present(resp.Error) {
		te := &dexerr.TransportError{URL: t.url(endpoint, nil), Status: http.StatusOK, Message: resp.Message}
		if key, msg, ok := parseError(raw); ok {
			te.ErrorKey, te.Message = key, msg
		}
		return SubmitResponse{}, te
	}
	if resp.TrackingID == "" {
		return SubmitResponse{}, &dexerr.TransportError{URL: t.url(endpoint, nil), Status: http.StatusOK, Message: "response carries no trackingId"}
	}
	return resp, nil
}

// Get fetches endpoint and decodes the Data member of the response into out.
func (t *Transport) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	raw, err := t.do(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return decodeData(endpoint, raw, out)
}

// PostData sends body to endpoint and decodes the Data member of the
// response into out. It is for evaluate-style calls that return a result
// immediately rather than a tracking id.
func (t *Transport) PostData(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: encode request: %w", err)
	}
	raw, err := t.do(ctx, http.MethodPost, endpoint, nil, data)
	if err != nil {
		return err
	}
	return decodeData(endpoint, raw, out)
}

// decodeData unwraps the {"Data": ...} envelope into out.
func decodeData(endpoint string, raw []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"Data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("gateway: decode response from %s: %w", endpoint, err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("gateway: decode data from %s: %w", endpoint, err)
	}
	return nil
}

func (t *Transport) do(ctx context.Context, method, endpoint string, query url.Values, body []byte) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := t.url(endpoint, query)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.observe(method, endpoint, "error", start)
		return nil, fmt.Errorf("gateway: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	t.observe(method, endpoint, strconv.Itoa(resp.StatusCode), start)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response from %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &dexerr.TransportError{URL: target, Status: resp.StatusCode}
		if key, msg, ok := parseError(raw); ok {
			te.ErrorKey, te.Message = key, msg
		} else {
			te.Message = strings.TrimSpace(string(raw))
		}
		t.log.Debug("gateway: request failed", "method", method, "url", target, "status", resp.StatusCode, "error_key", te.ErrorKey)
		return nil, te
	}
	return raw, nil
}

func (t *Transport) url(endpoint string, query url.Values) string {
	u := t.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (t *Transport) observe(method, endpoint, code string, start time.Time) {
	if t.metrics == nil {
		return
	}
	t.metrics.Requests.WithLabelValues(method, endpoint, code).Inc()
	t.metrics.Latency.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}
