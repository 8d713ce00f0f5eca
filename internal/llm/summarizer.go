package llm

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

const summarizerPrompt = `You are NOT performing the web search: the result is already done.
Your job is to pass along the entire result as-is, without filtering, editing, or skipping any lines.
If the result is empty or says "no results", simply explain this to the user kindly.
Respond as if you're the user's AI assistant on Telegram.
Include the search query in the greeting, for example "Hello, here are your search results for Dark Matter".`

// Summarizer formats raw search results according to a task's instructions.
type Summarizer struct {
	gen Generator
	cfg Config
}

func NewSummarizer(gen Generator, cfg Config) *Summarizer {
	return &Summarizer{gen: gen, cfg: cfg.withDefaults()}
}

func (s *Summarizer) Summarize(ctx context.Context, instructions, results string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(summarizerPrompt),
		schema.UserMessage(instructions),
		schema.UserMessage(results),
	}
	return generate(ctx, s.gen, s.cfg, msgs)
}

func todayUTC() string { return time.Now().UTC().Format("2006-01-02 (Monday)") }
