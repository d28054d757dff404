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
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for OpenAI-compatible chat completion APIs, such
// as OpenAI itself, DeepSeek or OpenRouter.
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// LLMParameters holds the optional sampling parameters forwarded upstream. Nil fields are left to the
// provider default.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
	MaxTokens        *int     `yaml:"maxTokens"`
}

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL, model name, and system prompt.
// An empty baseURL targets the OpenAI API.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Transport: thinkingTransport{base: http.DefaultTransport},
	}
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, messages []models.Turn) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range upstreamTurns(messages) {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return msgs
}

// Chat is a wrapper around the OpenAI chat completion streaming API. When thinking is true the request
// carries the `thinking` extension field that DeepSeek uses to enable its reasoning channel, and
// reasoning deltas are forwarded. Otherwise they are dropped.
func (o OpenAI) Chat(ctx context.Context, messages []models.Turn, thinking bool) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		req := o.chatRequest(openAIMessages(o.systemPrompt, messages))

		reqJSON, err := json.Marshal(req)
		if err == nil {
			o.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(context.WithValue(ctx, thinkingKey{}, thinking))
		defer cancel()

		s, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer s.Close()

		var finish *stream.Finish
		for {
			response, err := s.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(nil, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if response.Usage != nil && finish != nil {
				finish.Usage = openAIUsage(response.Usage)
			}

			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.FinishReason != "" {
				finish = &stream.Finish{Reason: string(choice.FinishReason)}
				if response.Usage != nil {
					finish.Usage = openAIUsage(response.Usage)
				}
				continue
			}

			if thinking && choice.Delta.ReasoningContent != "" {
				if !yield(stream.Reasoning{Text: choice.Delta.ReasoningContent}, nil) {
					return
				}
			}
			if choice.Delta.Content != "" {
				if !yield(stream.Content{Text: choice.Delta.Content}, nil) {
					return
				}
			}
		}

		if finish != nil {
			o.logger.Debug("Finished", slog.String("reason", finish.Reason))
			yield(*finish, nil)
		}
	}
}

func openAIUsage(u *goopenai.Usage) *models.Usage {
	return &models.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (o OpenAI) chatRequest(messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &goopenai.StreamOptions{
			IncludeUsage: true,
		},
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}

	return req
}

type thinkingKey struct{}

var thinkingEnabled = json.RawMessage(`{"type":"enabled"}`)

// thinkingTransport adds `"thinking":{"type":"enabled"}` to the JSON body of requests whose context
// enables thinking. go-openai has no way to pass extra body fields.
type thinkingTransport struct {
	base http.RoundTripper
}

func (t thinkingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	enabled, _ := req.Context().Value(thinkingKey{}).(bool)
	if !enabled || req.Body == nil || req.Method != http.MethodPost {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading request body: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("error decoding request body: %w", err)
	}
	fields["thinking"] = thinkingEnabled
	body, err = json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("error encoding request body: %w", err)
	}

	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return t.base.RoundTrip(r)
}
