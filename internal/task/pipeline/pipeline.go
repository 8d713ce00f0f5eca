// Package pipeline executes one firing of a registered task: load it, search
// when it has a query, summarize, and deliver the result to its recipient.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/search"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
	"github.com/utestwalter/Mila/pkg/tgui"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeReminder  Outcome = "reminder"
	OutcomeNoResults Outcome = "no_results"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

const (
	NoResultsText = "❌ There are no search results."
	reminderFmt   = "🔔 Reminder:\n\n%s"
	resultsFmt    = "📚 Results for: `%s`\n\n%s"
	failureFmt    = "⚠️ Task `%s` failed: %s"
)

// EventExecuted is published once per Execute call.
const EventExecuted = "pipeline.executed"

type ExecutionEvent struct {
	TaskID   string        `json:"task_id"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

var ErrTaskNotFound = errors.New("task not found")

type TaskGetter interface {
	Get(ctx context.Context, id string) (storage.TaskDefinition, bool, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) (search.Results, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, instructions, results string) (string, error)
}

// Deliverer sends a task's messages. Deliveries are keyed by task id.
type Deliverer interface {
	DeliverTask(ctx context.Context, taskID string, to transport.ChatTarget, text string) error
}

type Config struct {
	// MaxMessageRunes caps the delivered result text.
	MaxMessageRunes int
	SearchTimeout   time.Duration
	SummaryTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessageRunes <= 0 {
		c.MaxMessageRunes = 4000
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 30 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 90 * time.Second
	}
	return c
}

type Deps struct {
	Store      TaskGetter
	Search     Searcher
	Summarizer Summarizer
	Notifier   Deliverer
	Log        logx.Logger
	Bus        eventbus.Bus
}

type Pipeline struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps) *Pipeline {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{cfg: cfg.withDefaults(), deps: deps, log: log.With(logx.String("comp", "pipeline"))}
}

// Execute runs task id once. The returned error is nil for delivered,
// reminder and no-results outcomes. Terminal failures are wrapped with
// engine.NoRetry; a store I/O error is left retryable.
func (p *Pipeline) Execute(ctx context.Context, id string) (out Outcome, err error) {
	start := time.Now()
	log := p.log.With(logx.String("task", id))
	defer func() {
		ev := ExecutionEvent{TaskID: id, Outcome: out, Duration: time.Since(start)}
		if err != nil {
			ev.Error = err.Error()
		}
		eventbus.Publish(p.deps.Bus, EventExecuted, ev)
		log.Info("task executed", logx.String("outcome", string(out)), logx.Duration("took", ev.Duration))
	}()

	def, found, err := p.deps.Store.Get(ctx, id)
	switch {
	case err != nil && errors.Is(err, storage.ErrCorrupt):
		log.Warn("task record is corrupt", logx.Err(err))
		return OutcomeFailed, engine.NoRetry(err)
	case err != nil:
		return OutcomeFailed, fmt.Errorf("load task %s: %w", id, err)
	case !found:
		log.Warn("fired task no longer exists")
		return OutcomeNotFound, engine.NoRetry(fmt.Errorf("%w: %s", ErrTaskNotFound, id))
	}

	if def.IsReminder() {
		if err := p.deps.Notifier.DeliverTask(ctx, def.ID, def.Recipient, fmt.Sprintf(reminderFmt, def.Instructions)); err != nil {
			return OutcomeFailed, engine.NoRetry(fmt.Errorf("deliver reminder: %w", err))
		}
		return OutcomeReminder, nil
	}

	results, ok := p.search(ctx, log, def.SearchQuery)
	if !ok {
		if err := p.deps.Notifier.DeliverTask(ctx, def.ID, def.Recipient, NoResultsText); err != nil {
			return OutcomeFailed, engine.NoRetry(fmt.Errorf("deliver no-results notice: %w", err))
		}
		return OutcomeNoResults, nil
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.SummaryTimeout)
	summary, err := p.deps.Summarizer.Summarize(sctx, def.Instructions, results.Markdown())
	cancel()
	if err != nil {
		return OutcomeFailed, p.fail(ctx, log, def, fmt.Errorf("summarize: %w", err))
	}

	text := tgui.TruncRunes(fmt.Sprintf(resultsFmt, def.ID, summary), p.cfg.MaxMessageRunes)
	if err := p.deps.Notifier.DeliverTask(ctx, def.ID, def.Recipient, text); err != nil {
		return OutcomeFailed, p.fail(ctx, log, def, fmt.Errorf("deliver results: %w", err))
	}
	return OutcomeDelivered, nil
}

// search reports ok=false when the provider failed or found nothing. Both
// collapse into the same user-facing no-results message.
func (p *Pipeline) search(ctx context.Context, log logx.Logger, query string) (search.Results, bool) {
	if p.deps.Search == nil {
		log.Warn("no search provider configured")
		return nil, false
	}
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()
	res, err := p.deps.Search.Search(sctx, query)
	if err != nil {
		log.Warn("search failed", logx.String("query", query), logx.Err(err))
		return nil, false
	}
	if res.Empty() {
		log.Debug("search returned nothing", logx.String("query", query))
		return nil, false
	}
	return res, true
}

// fail sends one best-effort failure notice and returns cause as terminal.
func (p *Pipeline) fail(ctx context.Context, log logx.Logger, def storage.TaskDefinition, cause error) error {
	log.Error("task execution failed", logx.Err(cause))
	notice := tgui.TruncRunes(fmt.Sprintf(failureFmt, def.ID, cause.Error()), p.cfg.MaxMessageRunes)
	if err := p.deps.Notifier.DeliverTask(ctx, def.ID, def.Recipient, notice); err != nil {
		log.Warn("failure notice not delivered", logx.Err(err))
	}
	return engine.NoRetry(cause)
}
