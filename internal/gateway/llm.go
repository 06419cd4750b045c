package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/menalkhan12/ist-voice-agent/internal/dialog"
)

// The prompt instructs the model to emit dialog.NotFoundSentinel when the
// passages cannot answer, which is what the escalation tracker matches on.
const systemPromptEnglish = `You are a polite voice assistant for the Institute of Space Technology admissions office.
Answer ONLY from the reference passages below. Keep answers to one or two short spoken sentences.
Never invent facts, numbers, dates or fees. If the passages do not contain the answer, reply exactly: ` + dialog.NotFoundSentinel

const urduStyleNote = `Reply in simple Urdu written in Latin script (Roman Urdu), still grounded only in the passages.`

// Exchange is one prior query/answer pair kept for conversational context.
type Exchange struct {
	Query  string
	Answer string
}

// GroqLLM composes grounded answers through the Groq chat completions API.
type GroqLLM struct {
	HTTPClient  *http.Client
	APIKey      string
	BaseURL     string
	Model       string
	MaxRetries  int
	Backoff     time.Duration
	TokenBudget int

	enc *tiktoken.Tiktoken
}

// NewGroqLLM builds the completion client. The tokenizer load failure is
// tolerated; token counts then fall back to a bytes/4 estimate.
func NewGroqLLM(apiKey, baseURL, model string, maxRetries int, backoffInterval, timeout time.Duration, tokenBudget int) *GroqLLM {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("tokenizer unavailable, using byte estimate")
		enc = nil
	}
	return &GroqLLM{
		HTTPClient:  &http.Client{Timeout: timeout},
		APIKey:      apiKey,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Model:       model,
		MaxRetries:  maxRetries,
		Backoff:     backoffInterval,
		TokenBudget: tokenBudget,
		enc:         enc,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// Complete answers query from the given reference passages. history holds
// the most recent exchanges, oldest first; languageHint selects the reply
// style ("ur" switches to Roman Urdu).
func (g *GroqLLM) Complete(ctx context.Context, query string, passages []string, history []Exchange, languageHint string) (string, error) {
	if g.APIKey == "" {
		return "", &CompletionError{Provider: "groq", Err: fmt.Errorf("api key missing")}
	}

	messages := g.buildMessages(query, passages, history, languageHint)
	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model:       g.Model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   200,
	})

	var answer string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(&CompletionError{Provider: "groq", Err: err})
		}
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.HTTPClient.Do(req)
		if err != nil {
			return &CompletionError{Provider: "groq", Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			ce := &CompletionError{Provider: "groq", Status: resp.StatusCode,
				Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))}
			if !retryableStatus(resp.StatusCode) {
				return backoff.Permanent(ce)
			}
			return ce
		}
		var cr chatCompletionsResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return &CompletionError{Provider: "groq", Err: fmt.Errorf("decode response: %w", err)}
		}
		if len(cr.Choices) == 0 {
			return backoff.Permanent(&CompletionError{Provider: "groq", Err: fmt.Errorf("empty choices")})
		}
		answer = strings.TrimSpace(cr.Choices[0].Message.Content)
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.Backoff), uint64(g.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var ce *CompletionError
		if errors.As(err, &ce) {
			return "", ce
		}
		return "", &CompletionError{Provider: "groq", Err: err}
	}
	return answer, nil
}

// buildMessages assembles the chat history, reference passages and query.
// Passages are included in rank order until the token budget is spent.
func (g *GroqLLM) buildMessages(query string, passages []string, history []Exchange, languageHint string) []chatMessage {
	system := systemPromptEnglish
	if languageHint == "ur" {
		system += "\n" + urduStyleNote
	}

	var ctxBlock strings.Builder
	remaining := g.TokenBudget
	for i, p := range passages {
		cost := g.countTokens(p)
		if cost > remaining && i > 0 {
			break
		}
		if cost > remaining {
			// The top passage always goes in, truncated to fit.
			p = g.truncateToTokens(p, remaining)
		}
		ctxBlock.WriteString(p)
		ctxBlock.WriteString("\n\n")
		remaining -= cost
		if remaining <= 0 {
			break
		}
	}

	messages := []chatMessage{{Role: "system", Content: system}}
	if ctxBlock.Len() > 0 {
		messages = append(messages, chatMessage{Role: "system", Content: "Reference passages:\n" + ctxBlock.String()})
	}
	for _, ex := range history {
		messages = append(messages,
			chatMessage{Role: "user", Content: ex.Query},
			chatMessage{Role: "assistant", Content: ex.Answer})
	}
	return append(messages, chatMessage{Role: "user", Content: query})
}

func (g *GroqLLM) countTokens(text string) int {
	if g.enc != nil {
		return len(g.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

func (g *GroqLLM) truncateToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if g.enc != nil {
		toks := g.enc.Encode(text, nil, nil)
		if len(toks) <= budget {
			return text
		}
		return g.enc.Decode(toks[:budget])
	}
	max := budget * 4
	if len(text) <= max {
		return text
	}
	return text[:max]
}
