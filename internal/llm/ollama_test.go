package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newOllamaTestBackend(t *testing.T, url string) *OllamaBackend {
	t.Helper()
	b, err := NewOllamaBackend(ModelEntry{
		Name:    "llama3-8B-in",
		Model:   "llama3.1:8b",
		BaseURL: url,
	}, &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	return b
}

func TestOllamaBackend_Chat_Success(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected path /api/chat, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}

		resp := ollamaResponse{
			Model:   "llama3.1:8b",
			Message: ollamaMessage{Role: "assistant", Content: "1. The sky is blue."},
			Done:    true,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	out, err := newOllamaTestBackend(t, server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "List facts."}},
		Params{"temperature": 0.7, "max_tokens": 256})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(out) != 1 || out[0] != "1. The sky is blue." {
		t.Errorf("Unexpected output: %v", out)
	}
	if got.Stream {
		t.Error("Expected stream=false")
	}
	if got.Model != "llama3.1:8b" {
		t.Errorf("Expected provider model id, got %s", got.Model)
	}
	if got.Options.NumPredict != 256 {
		t.Errorf("Expected num_predict 256, got %d", got.Options.NumPredict)
	}
	if got.Options.Temperature == nil || *got.Options.Temperature != 0.7 {
		t.Errorf("Expected temperature 0.7, got %v", got.Options.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("Unexpected messages: %+v", got.Messages)
	}
}

func TestOllamaBackend_Chat_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "Internal Server Error"}`))
	}))
	defer server.Close()

	_, err := newOllamaTestBackend(t, server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", statusErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "Internal Server Error") {
		t.Errorf("Expected error message to contain 'Internal Server Error', got %v", err)
	}
}

func TestOllamaBackend_Chat_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{malformed json`))
	}))
	defer server.Close()

	_, err := newOllamaTestBackend(t, server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)

	var decodeErr *ResponseDecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected *ResponseDecodeError, got %T: %v", err, err)
	}
}

func TestOllamaBackend_DefaultBaseURL(t *testing.T) {
	b, err := NewOllamaBackend(ModelEntry{Name: "local", Model: "mistral"}, http.DefaultClient)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if b.baseURL != ollamaDefaultBaseURL {
		t.Errorf("Expected default base url, got %s", b.baseURL)
	}
}
