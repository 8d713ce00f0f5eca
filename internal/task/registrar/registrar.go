// Package registrar turns a user's free-text request into a persisted,
// scheduled task and handles listing and deleting a user's tasks.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/llm"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/ids"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	"github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
)

var (
	ErrTooShort       = errors.New("task description is too short")
	ErrScheduleInPast = errors.New("one-time schedule is in the past")
	ErrForbidden      = errors.New("task belongs to another user")
)

// Bus event types.
const (
	EventRegistered = "registrar.registered"
	EventDeleted    = "registrar.deleted"
)

type Compiler interface {
	Compile(ctx context.Context, text string) (llm.Draft, error)
}

type Scheduler interface {
	Register(id string, t schedule.Trigger) error
	Remove(id string) bool
	Location() *time.Location
}

type Store interface {
	storage.TaskStore
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	// MinTextRunes rejects descriptions shorter than this.
	MinTextRunes int
	// Users maps Telegram user ids to the display names used as id owners.
	Users map[int64]string
	// Admins may show and delete any task.
	Admins []int64
}

func (c Config) withDefaults() Config {
	if c.MinTextRunes <= 0 {
		c.MinTextRunes = 30
	}
	return c
}

type Deps struct {
	Store     Store
	Compiler  Compiler
	Scheduler Scheduler
	Log       logx.Logger
	Bus       eventbus.Bus
	Now       func() time.Time
}

type Request struct {
	UserID   int64
	Username string
	Chat     transport.ChatTarget
	Text     string
}

// Registration is a successfully registered task plus its display form.
type Registration struct {
	Task     storage.TaskDefinition
	Schedule string
	Next     time.Time
}

type Service struct {
	// mu serializes id allocation with the write that claims the id.
	mu sync.Mutex

	cmu sync.RWMutex
	cfg Config

	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{cfg: cfg.withDefaults(), deps: deps, log: log.With(logx.String("comp", "registrar"))}
}

// Apply swaps the access-related config (hot reload).
func (s *Service) Apply(cfg Config) {
	s.cmu.Lock()
	s.cfg = cfg.withDefaults()
	s.cmu.Unlock()
}

func (s *Service) config() Config {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	return s.cfg
}

// Owner is the id namespace of userID.
func (s *Service) Owner(userID int64) string { return ids.Owner(userID, s.config().Users) }

func (s *Service) isAdmin(userID int64) bool {
	for _, id := range s.config().Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// CheckText rejects descriptions too short to compile.
func (s *Service) CheckText(text string) error {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < s.config().MinTextRunes {
		return ErrTooShort
	}
	return nil
}

// Register compiles, persists and schedules a request. Nothing is left
// behind when any step fails.
func (s *Service) Register(ctx context.Context, req Request) (Registration, error) {
	cfg := s.config()
	text := strings.TrimSpace(req.Text)
	if err := s.CheckText(text); err != nil {
		return Registration{}, err
	}
	s.audit(ctx, req, "request", "", text, nil)

	draft, err := s.deps.Compiler.Compile(ctx, text)
	if err != nil {
		s.log.Warn("task compile failed", logx.Int64("user", req.UserID), logx.Err(err))
		return Registration{}, err
	}
	spec, err := draft.Schedule.Decode()
	if err != nil {
		return Registration{}, err
	}
	trig, err := schedule.Compile(spec, s.deps.Scheduler.Location())
	if err != nil {
		return Registration{}, err
	}
	now := s.deps.Now()
	next := trig.Next(now)
	if next.IsZero() {
		return Registration{}, fmt.Errorf("%w: %s", ErrScheduleInPast, schedule.Describe(spec))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner := ids.Owner(req.UserID, cfg.Users)
	id, err := ids.Allocate(ctx, s.deps.Store, owner, text)
	if err != nil {
		return Registration{}, err
	}
	def := storage.TaskDefinition{
		ID:           id,
		Owner:        owner,
		Instructions: draft.Instructions,
		SearchQuery:  draft.SearchQuery,
		Schedule:     spec,
		Recipient:    req.Chat,
		CreatedAt:    now.UTC(),
	}
	if err := s.deps.Store.Put(ctx, def); err != nil {
		return Registration{}, fmt.Errorf("persist task %s: %w", id, err)
	}
	if err := s.deps.Scheduler.Register(id, trig); err != nil {
		if _, derr := s.deps.Store.Delete(ctx, id); derr != nil {
			s.log.Error("rollback after schedule failure left a record", logx.String("task", id), logx.Err(derr))
		}
		if errors.Is(err, scheduler.ErrMissedTrigger) {
			return Registration{}, fmt.Errorf("%w: %v", ErrScheduleInPast, err)
		}
		return Registration{}, fmt.Errorf("schedule task %s: %w", id, err)
	}

	reg := Registration{Task: def, Schedule: schedule.Describe(spec), Next: next}
	s.audit(ctx, req, "register", id, "", nil)
	s.log.Info("task registered",
		logx.String("task", id),
		logx.String("schedule", reg.Schedule),
		logx.Bool("reminder", def.IsReminder()))
	eventbus.Publish(s.deps.Bus, EventRegistered, reg)
	return reg, nil
}

// List returns the ids owned by userID.
func (s *Service) List(ctx context.Context, userID int64) ([]string, error) {
	l, err := s.deps.Store.List(ctx, storage.Filter{Owner: s.Owner(userID)})
	if err != nil {
		return nil, err
	}
	return l.IDs, nil
}

// NormalizeID strips the ".txt" suffix users copy from task listings.
func NormalizeID(raw string) string {
	return strings.TrimSuffix(strings.TrimSpace(raw), ".txt")
}

func (s *Service) authorize(userID int64, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	if s.isAdmin(userID) || strings.HasPrefix(id, s.Owner(userID)+"_") {
		return nil
	}
	return ErrForbidden
}

// Show returns a task the user may see.
func (s *Service) Show(ctx context.Context, userID int64, rawID string) (storage.TaskDefinition, bool, error) {
	id := NormalizeID(rawID)
	if err := s.authorize(userID, id); err != nil {
		return storage.TaskDefinition{}, false, err
	}
	return s.deps.Store.Get(ctx, id)
}

// Delete unschedules and removes a task. It reports false when nothing
// existed under id.
func (s *Service) Delete(ctx context.Context, req Request, rawID string) (bool, error) {
	id := NormalizeID(rawID)
	if err := s.authorize(req.UserID, id); err != nil {
		return false, err
	}

	return s.remove(ctx, req, id)
}

// Purge removes any task on behalf of an operator (admin API, CLI).
func (s *Service) Purge(ctx context.Context, actor, rawID string) (bool, error) {
	id := NormalizeID(rawID)
	if err := storage.ValidateID(id); err != nil {
		return false, err
	}
	return s.remove(ctx, Request{Username: actor}, id)
}

func (s *Service) remove(ctx context.Context, req Request, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deps.Scheduler.Remove(id)
	existed, err := s.deps.Store.Delete(ctx, id)
	s.audit(ctx, req, "delete", id, "", err)
	if err != nil {
		return false, err
	}
	if existed {
		s.log.Info("task deleted", logx.String("task", id), logx.Int64("user", req.UserID), logx.String("by", req.Username))
		eventbus.Publish(s.deps.Bus, EventDeleted, id)
	}
	return existed, nil
}

func (s *Service) audit(ctx context.Context, req Request, action, id, text string, err error) {
	e := storage.AuditEntry{
		At:       s.deps.Now().UTC(),
		UserID:   req.UserID,
		Username: req.Username,
		ChatID:   req.Chat.ChatID,
		Action:   action,
		TaskID:   id,
		Text:     text,
		OK:       err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.deps.Store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
