package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/stream"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the LLM interface of the relay and maps Claude's thinking blocks to the reasoning channel.
type Anthropic struct {
	apiKey         string
	model          string
	systemPrompt   string
	maxTokens      int
	thinkingBudget int

	endpoint string
	client   *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Thinking   string `json:"thinking"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, system prompt and
// maximum token limit. thinkingBudget is the token budget of extended thinking when a request enables it.
func NewAnthropic(apiKey, model, systemPrompt string, maxTokens, thinkingBudget int, logger *slog.Logger) Anthropic {
	return Anthropic{
		apiKey:         apiKey,
		model:          model,
		systemPrompt:   systemPrompt,
		maxTokens:      maxTokens,
		thinkingBudget: thinkingBudget,
		endpoint:       anthropicAPIEndpoint,
		client:         &http.Client{},
		logger:         logger.With(slog.String("module", "anthropic")),
	}
}

// Chat streams responses from the Anthropic API for a given sequence of messages. It returns an iterator
// that yields reasoning and content deltas, then a finish event with the stop reason and token usage. The
// context can be used to cancel ongoing requests.
func (a Anthropic) Chat(ctx context.Context, messages []models.Turn, thinking bool) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		turns := upstreamTurns(messages)
		msgs := make([]anthropicMessage, len(turns))
		for i, msg := range turns {
			msgs[i] = anthropicMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}

		reqBody := anthropicChatRequest{
			Model:     a.model,
			Messages:  msgs,
			Stream:    true,
			System:    a.systemPrompt,
			MaxTokens: a.maxTokens,
		}
		if thinking && a.thinkingBudget > 0 {
			reqBody.Thinking = &anthropicThinking{
				Type:         "enabled",
				BudgetTokens: a.thinkingBudget,
			}
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(nil, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(nil, fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		var usage models.Usage
		stopReason := ""
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(nil, fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield(nil, fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield(nil, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				yield(stream.Finish{Reason: stopReason, Usage: &usage}, nil)
				return
			case "message_start", "message_delta", "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(nil, fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if ev.Type == "message_start" {
					usage.PromptTokens = res.Message.Usage.InputTokens
					continue
				}
				if ev.Type == "message_delta" {
					stopReason = res.Delta.StopReason
					usage.CompletionTokens = res.Usage.OutputTokens
					continue
				}
				var out stream.Event
				switch res.Delta.Type {
				case "thinking_delta":
					out = stream.Reasoning{Text: res.Delta.Thinking}
				case "text_delta":
					out = stream.Content{Text: res.Delta.Text}
				default:
					a.logger.Debug("Skipping delta", slog.String("type", res.Delta.Type))
					continue
				}
				if !yield(out, nil) {
					return
				}
			default:
				continue
			}
		}
	}
}
