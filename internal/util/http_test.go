package util

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestWithHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer server.Close()

	client := WithHeaders(NewHTTPClient(HTTPOptions{Timeout: 5 * time.Second}), map[string]string{
		"OpenAI-Project": "proj-1",
		"Authorization":  "Bearer override",
	})

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer original")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()

	if got.Get("OpenAI-Project") != "proj-1" {
		t.Errorf("expected OpenAI-Project header, got %q", got.Get("OpenAI-Project"))
	}
	if got.Get("Authorization") != "Bearer override" {
		t.Errorf("expected configured Authorization to win, got %q", got.Get("Authorization"))
	}
	if req.Header.Get("Authorization") != "Bearer original" {
		t.Error("caller's request must not be modified")
	}
}

func TestWithHeaders_NoHeadersReturnsSameClient(t *testing.T) {
	client := NewHTTPClient(HTTPOptions{})
	if WithHeaders(client, nil) != client {
		t.Error("expected the same client when no headers are configured")
	}
}

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "http://secure-proxy.local:3128", "internal.example")

	tests := []struct {
		target string
		want   string
	}{
		{"http://api.example.com/v1", "http://proxy.local:3128"},
		{"https://api.example.com/v1", "http://secure-proxy.local:3128"},
		{"https://internal.example/v1", ""},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.target)
		got, err := proxy(&http.Request{URL: u})
		if err != nil {
			t.Fatalf("proxy(%s): %v", tt.target, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.target, gotStr, tt.want)
		}
	}
}
