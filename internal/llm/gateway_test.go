package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/cache"
	"github.com/ppiankov/defuse/internal/worker"
)

// noSleep records delays instead of waiting.
type noSleep struct {
	delays []time.Duration
}

func (s *noSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func chatResponse(contents ...string) openai.ChatCompletionResponse {
	resp := openai.ChatCompletionResponse{ID: "chatcmpl-1", Model: "gpt-4o"}
	for i, c := range contents {
		resp.Choices = append(resp.Choices, openai.ChatCompletionChoice{
			Index:   i,
			Message: openai.ChatCompletionMessage{Role: "assistant", Content: c},
		})
	}
	return resp
}

func newTestGateway(t *testing.T, url string, params Params, policy RetryPolicy, opts ...Option) *Gateway {
	t.Helper()
	reg, err := NewRegistry(ModelEntry{
		Name:       "gpt-4o",
		Provider:   "openai",
		BaseURL:    url,
		APIKey:     "test-key",
		Parameters: params,
	})
	require.NoError(t, err)

	opts = append([]Option{WithRetryPolicy(policy), WithLogger(zap.NewNop())}, opts...)
	g, err := NewGateway(reg, opts...)
	require.NoError(t, err)
	return g
}

func TestGateway_Complete_Single(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("Paris"))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, nil, RetryPolicy{MaxAttempts: 1})
	c, err := g.Complete(context.Background(), "gpt-4o", PlainText("Capital of France?"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Paris", c.Text())
	assert.False(t, c.Multi())
	assert.Equal(t, "gpt-4o", c.Model)
}

func TestGateway_Complete_MultiSampleOrder(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse("one", "two", "three"))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, Params{"temperature": 0.7}, RetryPolicy{MaxAttempts: 1})
	c, err := g.Complete(context.Background(), "gpt-4o", PlainText("q"), Params{"n": 3})
	require.NoError(t, err)
	assert.True(t, c.Multi())
	assert.Equal(t, []string{"one", "two", "three"}, c.Samples)
	assert.Equal(t, 3, got.N)
}

func TestGateway_Complete_AlwaysFailingMakesMaxAttempts(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
	}))
	defer server.Close()

	sleeper := &noSleep{}
	var retries []int
	policy := RetryPolicy{
		MaxAttempts: 4,
		Delay:       30 * time.Second,
		Sleep:       sleeper.Sleep,
		OnRetry:     func(model string, attempt int, err error) { retries = append(retries, attempt) },
	}
	g := newTestGateway(t, server.URL, nil, policy)

	_, err := g.Complete(context.Background(), "gpt-4o", PlainText("q"), nil)

	var failure *InferenceFailure
	require.True(t, errors.As(err, &failure), "expected *InferenceFailure, got %T: %v", err, err)
	assert.Equal(t, 4, failure.Attempts)
	assert.Equal(t, http.StatusInternalServerError, failure.StatusCode)
	assert.Equal(t, int32(4), requests.Load())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second}, sleeper.delays)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestGateway_Complete_InvalidParamsNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(chatResponse("ok"))
	}))
	defer server.Close()

	sleeper := &noSleep{}
	policy := RetryPolicy{MaxAttempts: 10, Delay: 30 * time.Second, Sleep: sleeper.Sleep}
	g := newTestGateway(t, server.URL, Params{"temperature": 0.7}, policy)

	_, err := g.Complete(context.Background(), "gpt-4o", PlainText("q"), Params{"temperature": "hot"})

	var paramsErr *ParamsError
	require.True(t, errors.As(err, &paramsErr), "expected *ParamsError, got %T: %v", err, err)
	assert.Equal(t, "gpt-4o", paramsErr.Model)
	var failure *InferenceFailure
	assert.False(t, errors.As(err, &failure))
	assert.Empty(t, sleeper.delays)
	assert.Zero(t, requests.Load())

	_, err = g.Complete(context.Background(), "gpt-4o", PlainText("q"), nil)
	require.NoError(t, err, "registry defaults are untouched by the bad override")
}

func TestGateway_Complete_RetryThenSuccess(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse("ok"))
	}))
	defer server.Close()

	sleeper := &noSleep{}
	g := newTestGateway(t, server.URL, nil, RetryPolicy{MaxAttempts: 10, Delay: time.Second, Sleep: sleeper.Sleep})

	c, err := g.Complete(context.Background(), "gpt-4o", PlainText("q"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Text())
	assert.Equal(t, int32(3), requests.Load())
	assert.Len(t, sleeper.delays, 2)
}

func TestGateway_Complete_NonRetryableStatus(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	policy := RetryPolicy{
		MaxAttempts:       5,
		RetryableStatuses: []int{http.StatusTooManyRequests, http.StatusInternalServerError},
		Sleep:             (&noSleep{}).Sleep,
	}
	g := newTestGateway(t, server.URL, nil, policy)

	_, err := g.Complete(context.Background(), "gpt-4o", PlainText("q"), nil)

	var failure *InferenceFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.Attempts)
	assert.Equal(t, http.StatusUnauthorized, failure.StatusCode)
	assert.Equal(t, int32(1), requests.Load())
}

func TestGateway_Complete_MalformedBodyNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{malformed json`))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, nil, RetryPolicy{MaxAttempts: 10, Sleep: (&noSleep{}).Sleep})

	_, err := g.Complete(context.Background(), "gpt-4o", PlainText("q"), nil)

	var decodeErr *ResponseDecodeError
	require.True(t, errors.As(err, &decodeErr), "expected *ResponseDecodeError, got %T: %v", err, err)
	assert.Equal(t, int32(1), requests.Load())
}

func TestGateway_Complete_UnknownModel(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", nil, RetryPolicy{MaxAttempts: 1})

	_, err := g.Complete(context.Background(), "gpt-5", PlainText("q"), nil)

	var unknown *UnknownModelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "gpt-5", unknown.Name)
}

func TestGateway_Complete_OverridesDoNotLeak(t *testing.T) {
	var bodies []openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		bodies = append(bodies, req)
		_ = json.NewEncoder(w).Encode(chatResponse("x"))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, Params{"max_tokens": 100}, RetryPolicy{MaxAttempts: 1})
	ctx := context.Background()

	_, err := g.Complete(ctx, "gpt-4o", PlainText("q"), Params{"max_tokens": 5})
	require.NoError(t, err)
	_, err = g.Complete(ctx, "gpt-4o", PlainText("q"), nil)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, 5, bodies[0].MaxTokens)
	assert.Equal(t, 100, bodies[1].MaxTokens)

	entry, err := g.Registry().Lookup("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, Params{"max_tokens": 100}, entry.Parameters)
}

func TestGateway_Complete_ConversationRoles(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse("Yes"))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, nil, RetryPolicy{MaxAttempts: 1})
	prompt := Conversation{
		Turn{Role: RoleSystem, Content: "be careful"},
		PlainText("question"),
		PlainText("answer"),
		PlainText("was the premise false?"),
	}
	_, err := g.Complete(context.Background(), "gpt-4o", prompt, nil)
	require.NoError(t, err)

	require.Len(t, got.Messages, 4)
	roles := []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role, got.Messages[3].Role}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

// countingBackend returns a fixed answer and counts calls.
type countingBackend struct {
	calls atomic.Int32
}

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) Chat(ctx context.Context, msgs []Message, params Params) ([]string, error) {
	b.calls.Add(1)
	return []string{"cached answer"}, nil
}

func TestGateway_Complete_Cache(t *testing.T) {
	backend := &countingBackend{}
	reg, err := NewRegistry(ModelEntry{Name: "local", Provider: "ollama"})
	require.NoError(t, err)

	g, err := NewGateway(reg,
		WithBackend("local", backend),
		WithCache(cache.NewMemoryCache(time.Hour, time.Minute), 0),
		WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ctx := context.Background()
	for range 3 {
		c, err := g.Complete(ctx, "local", PlainText("same prompt"), nil)
		require.NoError(t, err)
		assert.Equal(t, "cached answer", c.Text())
	}
	assert.Equal(t, int32(1), backend.calls.Load())

	_, err = g.Complete(ctx, "local", PlainText("same prompt"), Params{"temperature": 1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.calls.Load(), "different params must miss the cache")
}

func TestGateway_Complete_LimiterHonoursContext(t *testing.T) {
	backend := &countingBackend{}
	reg, err := NewRegistry(ModelEntry{Name: "local", Provider: "ollama"})
	require.NoError(t, err)

	limiter := worker.NewLimiter(0.001, 1)
	g, err := NewGateway(reg,
		WithBackend("local", backend),
		WithLimiter(limiter),
		WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), "local", PlainText("first"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Complete(ctx, "local", PlainText("second"), nil)

	var failure *InferenceFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 0, failure.Attempts)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestNewGateway_UnknownProvider(t *testing.T) {
	reg, err := NewRegistry(ModelEntry{Name: "x", Provider: "carrier-pigeon"})
	require.NoError(t, err)

	_, err = NewGateway(reg)
	assert.Error(t, err)
}
