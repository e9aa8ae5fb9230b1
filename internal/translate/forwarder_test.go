package translate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/resilience"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

func newTestBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "translation",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		RetryTimeout:     time.Minute,
	}, newTestLogger())
}

type scriptedInvoker struct {
	mu       sync.Mutex
	failures int // fail this many invocations before succeeding
	attempts int
	payloads []Payload
	done     chan struct{}
}

func newScriptedInvoker(failures int) *scriptedInvoker {
	return &scriptedInvoker{failures: failures, done: make(chan struct{}, 16)}
}

func (i *scriptedInvoker) InvokeAsync(ctx context.Context, payload Payload) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.attempts++
	if i.attempts <= i.failures {
		i.done <- struct{}{}
		return errors.New("translation service unreachable")
	}
	i.payloads = append(i.payloads, payload)
	i.done <- struct{}{}
	return nil
}

func (i *scriptedInvoker) waitAttempts(t *testing.T, n int) {
	t.Helper()
	for k := 0; k < n; k++ {
		select {
		case <-i.done:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d invocations happened", k, n)
		}
	}
}

func (i *scriptedInvoker) delivered() []Payload {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Payload(nil), i.payloads...)
}

func TestForwardDeliversPayloadWithEmotion(t *testing.T) {
	invoker := newScriptedInvoker(0)
	f := NewForwarder(invoker, newTestBreaker(), newTestLogger())

	emotion := models.EmotionSnapshot{Volume: 0.8, Rate: 1.2, Energy: 0.6}
	f.Forward("sess-1", "en-US", "hello world", false, 0.95, emotion)

	invoker.waitAttempts(t, 1)
	delivered := invoker.delivered()
	require.Len(t, delivered, 1)

	p := delivered[0]
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "en-US", p.SourceLanguage)
	assert.Equal(t, "hello world", p.TranscriptText)
	assert.False(t, p.IsPartial)
	assert.Equal(t, 0.95, p.StabilityScore)
	assert.Equal(t, emotion, p.EmotionDynamics)
	assert.NotZero(t, p.TimestampMs)
}

func TestForwardRetriesTransientFailure(t *testing.T) {
	invoker := newScriptedInvoker(1)
	f := NewForwarder(invoker, newTestBreaker(), newTestLogger())

	f.Forward("sess-1", "en-US", "retry me", true, 0.5, models.NeutralEmotion())

	invoker.waitAttempts(t, 2)
	delivered := invoker.delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "retry me", delivered[0].TranscriptText)
}

func TestForwardDropsAfterAllRetries(t *testing.T) {
	invoker := newScriptedInvoker(10)
	f := NewForwarder(invoker, newTestBreaker(), newTestLogger())

	f.Forward("sess-1", "en-US", "doomed", false, 0.9, models.NeutralEmotion())

	invoker.waitAttempts(t, 3)
	assert.Empty(t, invoker.delivered(), "payload is dropped after the attempt budget")
}

func TestForwardShortCircuitsOnOpenBreaker(t *testing.T) {
	breaker := newTestBreaker()
	for i := 0; i < 5; i++ {
		breaker.Execute(func() error { return errors.New("fail") })
	}

	invoker := newScriptedInvoker(0)
	f := NewForwarder(invoker, breaker, newTestLogger())

	f.Forward("sess-1", "en-US", "blocked", false, 0.9, models.NeutralEmotion())

	// the drop happens without a single invocation reaching the service
	time.Sleep(150 * time.Millisecond)
	invoker.mu.Lock()
	attempts := invoker.attempts
	invoker.mu.Unlock()
	assert.Zero(t, attempts)
}

func TestHTTPInvokerPostsJSONWithAuth(t *testing.T) {
	received := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Clone(context.Background())
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	invoker := NewHTTPInvoker(srv.URL, "secret-key", time.Second)
	err := invoker.InvokeAsync(context.Background(), Payload{SessionID: "sess-1", TranscriptText: "hola"})
	require.NoError(t, err)

	r := <-received
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
}

func TestHTTPInvokerRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	invoker := NewHTTPInvoker(srv.URL, "", time.Second)
	err := invoker.InvokeAsync(context.Background(), Payload{SessionID: "sess-1"})
	assert.ErrorContains(t, err, "502")
}
