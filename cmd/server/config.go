package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MegaGrindStone/chatstream/internal/handlers"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
	modelName() string
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port           string
	SystemPrompt   string
	EnableThinking bool
	LogLevel       slog.Level
	AllowedOrigins []string
	LLM            llmConfig
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	BaseURL       string                 `yaml:"baseURL"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig  `yaml:",inline"`
	APIKey         string `yaml:"apiKey"`
	MaxTokens      int    `yaml:"maxTokens"`
	ThinkingBudget int    `yaml:"thinkingBudget"`
}

const (
	defaultPort         = "8000"
	defaultSystemPrompt = "You are a friendly AI assistant. Answer the user's questions clearly and concisely."
)

var defaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string         `yaml:"port"`
		SystemPrompt   *string        `yaml:"systemPrompt"`
		EnableThinking *bool          `yaml:"enableThinking"`
		LogLevel       string         `yaml:"logLevel"`
		AllowedOrigins []string       `yaml:"allowedOrigins"`
		LLM            map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.SystemPrompt = defaultSystemPrompt
	if rawConfig.SystemPrompt != nil {
		c.SystemPrompt = *rawConfig.SystemPrompt
	}
	c.EnableThinking = true
	if rawConfig.EnableThinking != nil {
		c.EnableThinking = *rawConfig.EnableThinking
	}
	if rawConfig.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(rawConfig.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	c.AllowedOrigins = rawConfig.AllowedOrigins
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = defaultAllowedOrigins
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (b BaseLLMConfig) modelName() string {
	return b.Model
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	return services.NewOpenAI(apiKey, baseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (a anthropicConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}
	if a.ThinkingBudget >= a.MaxTokens {
		return nil, fmt.Errorf("thinkingBudget must be lower than maxTokens")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens, a.ThinkingBudget, logger), nil
}
