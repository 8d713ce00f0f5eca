// Package llm talks to the chat model that turns free-text requests into
// task definitions and formats search results for delivery.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator is a single non-streaming chat completion. Every eino chat
// model satisfies it.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	Temperature float32
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gpt-4"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	return c
}

var ErrNoAPIKey = errors.New("llm: api key is empty")

// NewOpenAI builds an OpenAI-compatible chat model. BaseURL may point at any
// compatible endpoint.
func NewOpenAI(ctx context.Context, cfg Config) (Generator, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model %s: %w", cfg.Model, err)
	}
	return m, nil
}

func generate(ctx context.Context, gen Generator, cfg Config, msgs []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	resp, err := gen.Generate(ctx, msgs, model.WithTemperature(cfg.Temperature), model.WithModel(cfg.Model))
	if err != nil {
		return "", fmt.Errorf("chat model call failed: %w", err)
	}
	if resp == nil {
		return "", errors.New("chat model returned no message")
	}
	return resp.Content, nil
}
