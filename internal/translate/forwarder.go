package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/metrics"
	"live-broadcast-demo/backend/pkg/resilience"
)

// Payload is the translation service invocation schema. Emotion
// dynamics are always present, defaulted when the cache had nothing.
type Payload struct {
	SessionID       string                 `json:"sessionId"`
	SourceLanguage  string                 `json:"sourceLanguage"`
	TranscriptText  string                 `json:"transcriptText"`
	IsPartial       bool                   `json:"isPartial"`
	StabilityScore  float64                `json:"stabilityScore"`
	TimestampMs     int64                  `json:"timestampMs"`
	EmotionDynamics models.EmotionSnapshot `json:"emotionDynamics"`
}

// Invoker ships one payload to the translation service, fire-and-forget
type Invoker interface {
	InvokeAsync(ctx context.Context, payload Payload) error
}

// Forwarder ships transcripts to the translation service without ever
// blocking or failing the transcription path. Transient failures are
// retried twice at 100 ms spacing through the circuit breaker; permanent
// failures are logged and dropped.
type Forwarder struct {
	invoker Invoker
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
	retry   resilience.RetryConfig
}

// NewForwarder creates a translation forwarder
func NewForwarder(invoker Invoker, breaker *resilience.CircuitBreaker, log *logger.Logger) *Forwarder {
	return &Forwarder{
		invoker: invoker,
		breaker: breaker,
		log:     log,
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
		},
	}
}

// Forward hands the transcript off asynchronously and returns
// immediately. The caller cannot observe forwarding failures.
func (f *Forwarder) Forward(sessionID, sourceLanguage, text string, isPartial bool, stabilityScore float64, emotion models.EmotionSnapshot) {
	payload := Payload{
		SessionID:       sessionID,
		SourceLanguage:  sourceLanguage,
		TranscriptText:  text,
		IsPartial:       isPartial,
		StabilityScore:  stabilityScore,
		TimestampMs:     time.Now().UnixMilli(),
		EmotionDynamics: emotion,
	}

	go f.deliver(payload)
}

func (f *Forwarder) deliver(payload Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := resilience.RetryThroughBreaker(ctx, f.retry, f.breaker, func() error {
		return f.invoker.InvokeAsync(ctx, payload)
	})

	if err != nil {
		metrics.TranslationForwardDrops.Inc()
		f.log.Warn("Translation forward dropped",
			"session_id", payload.SessionID,
			"is_partial", payload.IsPartial,
			"error", err.Error(),
		)
	}
}

// HTTPInvoker posts payloads to the translation service endpoint
type HTTPInvoker struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPInvoker creates an invoker for the given endpoint
func NewHTTPInvoker(url, apiKey string, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPInvoker{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// InvokeAsync sends one payload. The translation service acknowledges
// receipt only; its output goes directly to listeners out of band.
func (i *HTTPInvoker) InvokeAsync(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode translation payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("translation service returned status %d", resp.StatusCode)
	}
	return nil
}
