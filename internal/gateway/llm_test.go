package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
)

// newTestLLM builds a client with the byte-estimate token counter so budget
// assertions do not depend on the tokenizer data being available.
func newTestLLM(url string, retries, budget int) *GroqLLM {
	return &GroqLLM{
		HTTPClient:  &http.Client{Timeout: time.Second},
		APIKey:      "test-key",
		BaseURL:     url,
		Model:       "llama-3.3-70b-versatile",
		MaxRetries:  retries,
		Backoff:     time.Millisecond,
		TokenBudget: budget,
	}
}

func captureServer(t *testing.T, captured *chatCompletionsRequest, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(chatCompletionsResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: answer}}},
		})
	}))
}

func TestComplete_Success(t *testing.T) {
	var req chatCompletionsRequest
	srv := captureServer(t, &req, "  The deadline is July 15.  ")
	defer srv.Close()

	answer, err := newTestLLM(srv.URL, 0, 1500).Complete(context.Background(),
		"When is the deadline?", []string{"Applications close on July 15."}, nil, "en")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if answer != "The deadline is July 15." {
		t.Fatalf("answer = %q", answer)
	}
	// The prompt must instruct the exact phrase the escalation tracker
	// matches on, or sentinel answers stop escalating.
	if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, dialog.NotFoundSentinel) {
		t.Fatalf("system prompt missing sentinel instruction: %+v", req.Messages[0])
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "When is the deadline?" {
		t.Fatalf("query must be the final message, got %+v", last)
	}
}

func TestComplete_PassagesTrimmedToBudget(t *testing.T) {
	var req chatCompletionsRequest
	srv := captureServer(t, &req, "ok")
	defer srv.Close()

	first := strings.Repeat("fee details ", 10)
	second := strings.Repeat("hostel details ", 10)
	// Budget covers the first passage only (byte estimate: len/4 tokens).
	budget := len(first)/4 + 1
	_, err := newTestLLM(srv.URL, 0, budget).Complete(context.Background(),
		"fees?", []string{first, second}, nil, "en")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	joined := ""
	for _, m := range req.Messages {
		joined += m.Content + "\n"
	}
	if !strings.Contains(joined, "fee details") {
		t.Fatal("top-ranked passage must be included")
	}
	if strings.Contains(joined, "hostel details") {
		t.Fatal("over-budget passage must be dropped")
	}
}

func TestComplete_HistoryWindowIncluded(t *testing.T) {
	var req chatCompletionsRequest
	srv := captureServer(t, &req, "ok")
	defer srv.Close()

	history := []Exchange{{Query: "What programs?", Answer: "BS CS and BS EE."}}
	_, err := newTestLLM(srv.URL, 0, 1500).Complete(context.Background(),
		"And the fees?", []string{"Fees are listed per semester."}, history, "en")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	var sawHistory bool
	for i, m := range req.Messages {
		if m.Role == "user" && m.Content == "What programs?" {
			if i+1 < len(req.Messages) && req.Messages[i+1].Role == "assistant" {
				sawHistory = true
			}
		}
	}
	if !sawHistory {
		t.Fatal("history exchange missing from messages")
	}
}

func TestComplete_UrduStyleNote(t *testing.T) {
	var req chatCompletionsRequest
	srv := captureServer(t, &req, "ok")
	defer srv.Close()

	_, err := newTestLLM(srv.URL, 0, 1500).Complete(context.Background(),
		"fees?", nil, nil, "ur")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(req.Messages[0].Content, "Roman Urdu") {
		t.Fatal("urdu style note missing from system prompt")
	}
}

func TestComplete_PermanentFailureNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestLLM(srv.URL, 2, 1500).Complete(context.Background(), "q", nil, nil, "en")
	var ce *CompletionError
	if !errors.As(err, &ce) || ce.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want CompletionError with 400", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestComplete_RetriesServerError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(chatCompletionsResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "answer"}}},
		})
	}))
	defer srv.Close()

	answer, err := newTestLLM(srv.URL, 1, 1500).Complete(context.Background(), "q", nil, nil, "en")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if answer != "answer" {
		t.Fatalf("answer = %q", answer)
	}
}
