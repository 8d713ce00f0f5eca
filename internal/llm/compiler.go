package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"

	"github.com/utestwalter/Mila/internal/task/schedule"
)

// ErrMalformedTask is returned when the model reply is not the expected JSON
// object. The raw reply is kept in the wrapping error.
var ErrMalformedTask = errors.New("malformed task definition from model")

const compilerPrompt = `You are an assistant that receives a user's task description.
Split it into three things:
1. A "task_prompt": a clear instruction for GPT to format and present the result later.
2. A "search_query": the exact web search query to use (in English).
- If the user mentions "last 24 hours", "today", or "recent", preserve these expressions in the search query without modifying or replacing them.
- Use natural English phrases like "for the last 24 hours" or "recent" if the user requests fresh or up-to-date information.
3. A "schedule": when to run the task, including:
- "type": one of ["daily", "weekly", "monthly", "once"]
- if "daily": provide "hour" (0-23), "minute" (0-59), and "timezone" (IANA format, e.g. "US/Eastern")
- if "weekly": provide "day_of_week" (e.g. "tuesday"), "hour" (0-23), "minute" (0-59), and "timezone"
- if "monthly": provide "day" (1-31), "hour" (0-23), "minute" (0-59), and "timezone"
- if "once": provide "datetime" in ISO 8601 format (e.g. "2025-07-29T08:00:00") and "timezone"
Respond ONLY in valid JSON with keys: "task_prompt", "search_query", and "schedule".
If the user asks for a reminder without a link and without web search, set "search_query": null.
- All times must be specified in 24-hour format (0-23 for hours, 0-59 for minutes).
- Always include "timezone" for correct scheduling.
Today is %s.`

// Draft is the model's structured reading of a request. An empty
// SearchQuery means a plain reminder.
type Draft struct {
	Instructions string
	SearchQuery  string
	Schedule     schedule.Wire
}

type draftWire struct {
	TaskPrompt  string         `json:"task_prompt"`
	SearchQuery *string        `json:"search_query"`
	Schedule    *schedule.Wire `json:"schedule"`
}

type TaskCompiler struct {
	gen   Generator
	cfg   Config
	today func() string
}

func NewTaskCompiler(gen Generator, cfg Config) *TaskCompiler {
	return &TaskCompiler{gen: gen, cfg: cfg.withDefaults(), today: todayUTC}
}

// Compile asks the model for a Draft. It does not validate the schedule
// beyond its presence; decoding is the caller's job.
func (c *TaskCompiler) Compile(ctx context.Context, text string) (Draft, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(compilerPrompt, c.today())),
		schema.UserMessage(text),
	}
	reply, err := generate(ctx, c.gen, c.cfg, msgs)
	if err != nil {
		return Draft{}, err
	}
	return ParseDraft(reply)
}

// ParseDraft decodes a model reply, tolerating a surrounding ```json fence.
func ParseDraft(reply string) (Draft, error) {
	body := stripFence(reply)
	var w draftWire
	if err := sonic.UnmarshalString(body, &w); err != nil {
		return Draft{}, fmt.Errorf("%w: %v (reply: %q)", ErrMalformedTask, err, clip(reply, 300))
	}
	if strings.TrimSpace(w.TaskPrompt) == "" {
		return Draft{}, fmt.Errorf("%w: task_prompt is empty", ErrMalformedTask)
	}
	if w.Schedule == nil {
		return Draft{}, fmt.Errorf("%w: schedule is missing", ErrMalformedTask)
	}
	d := Draft{Instructions: strings.TrimSpace(w.TaskPrompt), Schedule: *w.Schedule}
	if w.SearchQuery != nil {
		d.SearchQuery = strings.TrimSpace(*w.SearchQuery)
	}
	return d, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
