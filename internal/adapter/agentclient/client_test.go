package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientConversePostsPrompt(t *testing.T) {
	var gotHeaders http.Header
	var gotReq ConverseRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":{"message":"looks good"},"steps":[{"tool":"find_similar_issues"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := client.Converse(ctx, AgentContextRetriever, "New GitHub Item #1")
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if out != "looks good" {
		t.Fatalf("unexpected output: %q", out)
	}
	if gotReq.Input != "New GitHub Item #1" || gotReq.AgentID != AgentContextRetriever {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
	if gotHeaders.Get("Authorization") != "ApiKey secret" {
		t.Fatalf("missing Authorization header")
	}
	if gotHeaders.Get("kbn-xsrf") != "true" {
		t.Fatalf("missing kbn-xsrf header")
	}
}

func TestClientConverseErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.Converse(context.Background(), AgentImpactQuantifier, "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestExtractMessage(t *testing.T) {
	cases := map[string]string{
		`{"response":{"message":"nested"}}`: "nested",
		`{"response":"plain"}`:              "plain",
		`{"message":"top"}`:                 "top",
		`{"other":1}`:                       `{"other":1}`,
	}
	for body, want := range cases {
		got, err := ExtractMessage([]byte(body))
		if err != nil {
			t.Fatalf("ExtractMessage(%s) failed: %v", body, err)
		}
		if got != want {
			t.Fatalf("ExtractMessage(%s) = %q, want %q", body, got, want)
		}
	}

	if _, err := ExtractMessage([]byte("not json")); err == nil {
		t.Fatalf("expected error for invalid body")
	}
}

func TestMockClientIsDeterministic(t *testing.T) {
	m := NewMockClient(0)
	a, err := m.Converse(context.Background(), AgentConflictResolver, "Conflict Resolution Request for PR #5\nbody")
	if err != nil {
		t.Fatalf("mock converse failed: %v", err)
	}
	b, _ := m.Converse(context.Background(), AgentConflictResolver, "Conflict Resolution Request for PR #5\nbody")
	if a != b {
		t.Fatalf("mock output not deterministic")
	}
	if !strings.Contains(a, "Conflict Resolution Request for PR #5") {
		t.Fatalf("unexpected mock output: %q", a)
	}
}

func TestMockClientHonoursContext(t *testing.T) {
	m := NewMockClient(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Converse(ctx, AgentContextRetriever, "x"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNewAgentMockMode(t *testing.T) {
	if _, ok := NewAgent("mock", "http://unused", "", time.Second).(*MockClient); !ok {
		t.Fatalf("expected mock client")
	}
	if _, ok := NewAgent("", "http://unused", "", time.Second).(*Client); !ok {
		t.Fatalf("expected http client")
	}
}
