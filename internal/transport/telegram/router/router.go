// Package router turns Telegram updates into Mila conversations: the reply
// keyboard flows, slash commands, access control and per-chat modes.
package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "github.com/utestwalter/Mila/internal/runtime/supervisor"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	kit "github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
)

type Access int

const (
	AccessAllowed Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	// Hidden commands are routed but not published in the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Username string
	Text     string
	Command  string
	Args     []string
	ReqID    string
	Logger   logx.Logger
}

type Registrar interface {
	CheckText(text string) error
	Register(ctx context.Context, req registrar.Request) (registrar.Registration, error)
	List(ctx context.Context, userID int64) ([]string, error)
	Show(ctx context.Context, userID int64, rawID string) (storage.TaskDefinition, bool, error)
	Delete(ctx context.Context, req registrar.Request, rawID string) (bool, error)
}

type Config struct {
	AllowedUsers []int64
	Admins       []int64
	// Workers is the number of handler goroutines. Updates of one chat
	// always land on the same worker and run in order.
	Workers   int
	QueueSize int
	// Timeout bounds one handler, including the LLM round trip.
	Timeout time.Duration
	// ModeTTL expires a pending "new task" or "delete" mode.
	ModeTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Minute
	}
	if c.ModeTTL <= 0 {
		c.ModeTTL = 30 * time.Minute
	}
	return c
}

type Deps struct {
	Adapter     kit.Adapter
	Registrar   Registrar
	Scheduler   interface{ Snapshot() scheduler.Snapshot }
	Engine      interface{ Snapshot() engine.Snapshot }
	Supervisors *SupervisorRegistry
	Log         logx.Logger
	Now         func() time.Time
}

type Router struct {
	deps Deps
	log  logx.Logger

	cmu sync.RWMutex
	cfg Config

	commands map[string]Command
	menu     []kit.BotCommand
	modes    *modeStore

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	shards  []chan func()
}

func New(cfg Config, deps Deps) *Router {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg = cfg.withDefaults()
	r := &Router{
		deps:  deps,
		log:   log.With(logx.String("comp", "telegram.router")),
		cfg:   cfg,
		modes: newModeStore(deps.Now),
	}
	r.setRegistry(r.builtinCommands())
	return r
}

// Apply swaps the access lists and timeouts (hot reload). Worker count and
// queue size apply on the next DispatchLoop.
func (r *Router) Apply(cfg Config) {
	r.cmu.Lock()
	r.cfg = cfg.withDefaults()
	r.cmu.Unlock()
}

func (r *Router) config() Config {
	r.cmu.RLock()
	defer r.cmu.RUnlock()
	return r.cfg
}

// Supervisor returns the router's worker supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setRegistry(cmds []Command) {
	r.commands = map[string]Command{}
	r.menu = r.menu[:0]
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		r.commands[c.Name] = c
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				r.commands[a] = c
			}
		}
		if !c.Hidden {
			r.menu = append(r.menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
	}
}

// MenuCommands lists the commands published to the Telegram menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	return append([]kit.BotCommand(nil), r.menu...)
}

func (r *Router) isAdmin(id int64) bool { return contains(r.config().Admins, id) }

func (r *Router) isAllowed(id int64) bool {
	cfg := r.config()
	return contains(cfg.AllowedUsers, id) || contains(cfg.Admins, id)
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	cfg := r.config()
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), cfg.Workers)
	for i := range shards {
		shards[i] = make(chan func(), cfg.QueueSize)
	}
	r.runMu.Lock()
	r.sup, r.shards, r.running = sup, shards, true
	r.runMu.Unlock()
	r.deps.Supervisors.Set("telegram.router", sup)

	r.log.Info("dispatcher started", logx.Int("workers", cfg.Workers), logx.Int("queue_cap", cfg.QueueSize))

	for i, jobs := range shards {
		idx, jobs := i, jobs
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	if up, ok := r.deps.Adapter.(kit.CommandMenuUpdater); ok {
		sup.Go("telegram.menu.update", func(c context.Context) error {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, r.MenuCommands()); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		r.shards = nil
		r.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.deps.Supervisors.Delete("telegram.router")
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) tryEnqueue(chatID int64, fn func()) bool {
	r.runMu.Lock()
	shards := r.shards
	r.runMu.Unlock()
	if len(shards) == 0 {
		return false
	}
	idx := int(uint64(chatID) % uint64(len(shards)))
	select {
	case shards[idx] <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		// No inline keyboards are sent; just clear the client spinner.
		if up.Callback != nil {
			_ = r.deps.Adapter.AnswerCallback(ctx, up.Callback.ID, "")
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	rid := uuid.NewString()[:8]
	req := &Request{
		Update:   up,
		Chat:     msg.Target(),
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Text:     text,
		ReqID:    rid,
	}

	cfg := r.config()
	var h HandlerFunc
	timeout := cfg.Timeout
	switch {
	case !r.isAllowed(msg.FromID):
		req.Command = "denied"
		h = r.handleDenied
	case strings.HasPrefix(text, "/"):
		name, args := parseCommand(text)
		cmd, ok := r.commands[name]
		req.Command, req.Args = name, args
		switch {
		case !ok:
			h = r.handleUnknown
		case cmd.Access == AccessAdmin && !r.isAdmin(msg.FromID):
			h = r.handleAdminOnly
		default:
			h = cmd.Handle
			if cmd.Timeout > 0 {
				timeout = cmd.Timeout
			}
		}
	case isButton(text):
		req.Command = "button"
		h = r.handleButton
	default:
		req.Command = "text"
		h = r.handleText
	}

	req.Logger = r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if !r.tryEnqueue(req.Chat.ChatID, func() { _ = final(ctx, req) }) {
		r.log.Warn("handler queue full", logx.Int64("chat_id", req.Chat.ChatID))
		_, _ = r.deps.Adapter.SendText(ctx, req.Chat, textBusy, nil)
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), parts[1:]
}

func isButton(text string) bool {
	return text == BtnNewTask || text == BtnTaskList || text == BtnDeleteTask
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
