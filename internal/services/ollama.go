package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/stream"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat implements the LLM interface by streaming responses from the Ollama model. The response is streamed
// incrementally as content deltas and closed by a finish event carrying the evaluation counts. Ollama has
// no separate reasoning channel, so thinking is ignored.
func (o Ollama) Chat(ctx context.Context, messages []models.Turn, _ bool) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		msgs := make([]api.Message, 0, len(messages)+1)
		if o.systemPrompt != "" {
			msgs = append(msgs, api.Message{
				Role:    string(models.RoleSystem),
				Content: o.systemPrompt,
			})
		}
		for _, msg := range upstreamTurns(messages) {
			msgs = append(msgs, api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			var ev stream.Event = stream.Content{Text: res.Message.Content}
			if res.Done {
				ev = stream.Finish{
					Reason: res.DoneReason,
					Usage: &models.Usage{
						PromptTokens:     res.PromptEvalCount,
						CompletionTokens: res.EvalCount,
						TotalTokens:      res.PromptEvalCount + res.EvalCount,
					},
				}
			} else if res.Message.Content == "" {
				return nil
			}
			if !yield(ev, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, fmt.Errorf("error sending request: %w", err))
		}
	}
}
