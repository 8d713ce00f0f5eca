package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utestwalter/Mila/internal/llm"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	kit "github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sent
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sent{to: to, text: text}
	if opt != nil {
		s.opt = *opt
	}
	f.msgs = append(f.msgs, s)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.text)
	}
	return out
}

type fakeRegistrar struct {
	mu        sync.Mutex
	ids       map[int64][]string
	registers int
	regErr    error
	deleted   []string
}

func (f *fakeRegistrar) CheckText(text string) error {
	if len([]rune(text)) < 30 {
		return registrar.ErrTooShort
	}
	return nil
}

func (f *fakeRegistrar) Register(_ context.Context, req registrar.Request) (registrar.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.regErr != nil {
		return registrar.Registration{}, f.regErr
	}
	id := fmt.Sprintf("alice_task_%d", f.registers)
	f.ids[req.UserID] = append(f.ids[req.UserID], id)
	spec := schedule.Daily{Hour: 8, Timezone: "UTC"}
	return registrar.Registration{
		Task: storage.TaskDefinition{
			ID: id, Owner: "alice", Instructions: "List *news*", SearchQuery: "go news",
			Schedule: spec, Recipient: req.Chat,
		},
		Schedule: schedule.Describe(spec),
		Next:     time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeRegistrar) List(_ context.Context, userID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids[userID]...), nil
}

func (f *fakeRegistrar) Show(_ context.Context, userID int64, rawID string) (storage.TaskDefinition, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ids[userID] {
		if id == registrar.NormalizeID(rawID) {
			return storage.TaskDefinition{ID: id, Instructions: "Water plants", Schedule: schedule.Daily{Hour: 9}}, true, nil
		}
	}
	return storage.TaskDefinition{}, false, nil
}

func (f *fakeRegistrar) Delete(_ context.Context, req registrar.Request, rawID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := registrar.NormalizeID(rawID)
	f.deleted = append(f.deleted, rawID)
	ids := f.ids[req.UserID]
	for i, v := range ids {
		if v == id {
			f.ids[req.UserID] = append(ids[:i], ids[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeSched struct{}

func (fakeSched) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Running: true, Timezone: "UTC", MissedPolicy: scheduler.MissedFireOnce,
		Entries: []scheduler.EntryInfo{{ID: "alice_task_1", State: scheduler.StatePending, Schedule: "08:00 UTC daily"}}}
}

type fakeEngine struct{}

func (fakeEngine) Snapshot() engine.Snapshot { return engine.Snapshot{Running: true, Workers: 2, QueueCap: 64} }

const (
	alice = int64(1)
	admin = int64(9)
	eve   = int64(666)
)

type harness struct {
	r      *Router
	ad     *fakeAdapter
	reg    *fakeRegistrar
	in     chan kit.Update
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ad:   &fakeAdapter{},
		reg:  &fakeRegistrar{ids: map[int64][]string{}},
		in:   make(chan kit.Update, 16),
		done: make(chan struct{}),
	}
	h.r = New(Config{AllowedUsers: []int64{alice}, Admins: []int64{admin}, Workers: 2}, Deps{
		Adapter:     h.ad,
		Registrar:   h.reg,
		Scheduler:   fakeSched{},
		Engine:      fakeEngine{},
		Supervisors: NewSupervisorRegistry(),
		Log:         logx.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.r.DispatchLoop(ctx, h.in)
	}()
	require.Eventually(t, func() bool { return h.r.Supervisor() != nil }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) say(from int64, text string) {
	h.in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100 + from, FromID: from, FromUsername: "u", Text: text}}
}

// waitN waits for n messages in total and returns them.
func (h *harness) waitN(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.ad.texts()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.ad.texts()
}

func TestAccessDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(eve, "/start")
	got := h.waitN(t, 1)
	assert.Equal(t, textNoAccess, got[0])
}

func TestStartShowsKeyboard(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(alice, "/start@MilaBot")
	h.waitN(t, 1)

	h.ad.mu.Lock()
	defer h.ad.mu.Unlock()
	assert.Equal(t, textWelcome, h.ad.msgs[0].text)
	assert.Equal(t, kit.Keyboard(mainKeyboard), h.ad.msgs[0].opt.Keyboard)
	assert.Equal(t, kit.ChatTarget{ChatID: 101}, h.ad.msgs[0].to)
}

func TestNewTaskFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(alice, BtnNewTask)
	h.say(alice, "Every morning at 8 send me the latest Go release news")
	got := h.waitN(t, 3)

	assert.Equal(t, textNewTaskGuide, got[0])
	assert.Equal(t, textCreating, got[1])
	assert.True(t, strings.HasPrefix(got[2], "✅ Task `alice_task_1` registered."), got[2])
	assert.Contains(t, got[2], "`go news`")
	assert.Contains(t, got[2], "08:00 UTC daily")
	assert.Contains(t, got[2], "2026-10-17 08:00 UTC")
	assert.Contains(t, got[2], `List \*news\*`)
}

func TestShortDescriptionRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(alice, "remind me")
	got := h.waitN(t, 1)
	assert.Equal(t, textTooShort, got[0])
	assert.Zero(t, h.reg.registers)
}

func TestRegistrationFailureMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.reg.regErr = llm.ErrMalformedTask
	h.say(alice, "Every morning at 8 send me the latest Go release news")
	got := h.waitN(t, 2)
	assert.Equal(t, textRegisterFailed, got[1])
}

func TestListAndDeleteFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.reg.ids[alice] = []string{"alice_water"}

	h.say(alice, BtnTaskList)
	h.say(alice, BtnDeleteTask)
	h.say(alice, "alice_water.txt")
	h.say(alice, "/delete alice_water")
	got := h.waitN(t, 4)

	assert.Equal(t, "📝 Your Task List:\n\n- `alice_water.txt`", got[0])
	assert.Contains(t, got[1], "Type file name for deletion")
	assert.Equal(t, "✅ Task `alice_water` deleted.", got[2])
	assert.Equal(t, "❌ Task `alice_water` is not found.", got[3])
	assert.Equal(t, []string{"alice_water.txt", "alice_water"}, h.reg.deleted)
}

func TestDeleteWithoutTasksDoesNotEnterDeleteMode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(alice, BtnDeleteTask)
	h.say(alice, "Every morning at 8 send me the latest Go release news")
	got := h.waitN(t, 3)

	assert.Equal(t, textNoTasksToDelete, got[0])
	assert.Equal(t, textCreating, got[1])
	assert.Empty(t, h.reg.deleted)
}

func TestButtonResetsDeleteMode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.reg.ids[alice] = []string{"alice_water"}

	h.say(alice, BtnDeleteTask)
	h.say(alice, BtnTaskList)
	h.say(alice, "alice_water")
	got := h.waitN(t, 3)

	// The id is treated as a (too short) description, not a delete target.
	assert.Equal(t, textTooShort, got[2])
	assert.Empty(t, h.reg.deleted)
}

func TestShowCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.reg.ids[alice] = []string{"alice_water"}

	h.say(alice, "/show alice_water.txt")
	h.say(alice, "/show alice_other")
	got := h.waitN(t, 2)
	assert.Contains(t, got[0], "Water plants")
	assert.Equal(t, "❌ Task `alice_other` is not found.", got[1])
}

func TestStatusIsAdminOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(alice, "/status")
	got := h.waitN(t, 1)
	assert.Equal(t, textAdminOnly, got[0])

	h.say(admin, "/status")
	got = h.waitN(t, 2)
	assert.Contains(t, got[1], "Scheduler: running, 1 entries")
	assert.Contains(t, got[1], "alice_task_1 [pending] 08:00 UTC daily")
	assert.Contains(t, got[1], "Engine: 2 workers")
	assert.Contains(t, got[1], "telegram.router")
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(alice, "/frobnicate")
	got := h.waitN(t, 1)
	assert.Equal(t, textUnknownCommand, got[0])
}

func TestMenuPublishedWithoutHiddenCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.Eventually(t, func() bool {
		h.ad.mu.Lock()
		defer h.ad.mu.Unlock()
		return len(h.ad.menu) > 0
	}, time.Second, 5*time.Millisecond)

	h.ad.mu.Lock()
	defer h.ad.mu.Unlock()
	names := make([]string, 0, len(h.ad.menu))
	for _, c := range h.ad.menu {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"start", "help", "new", "list", "delete", "show", "cancel"}, names)
}

func TestRegistrationErrorText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"too short", registrar.ErrTooShort, textTooShort},
		{"past", fmt.Errorf("wrap: %w", registrar.ErrScheduleInPast), textInPast},
		{"construction", &schedule.ConstructionError{Field: "hour", Value: "25", Reason: schedule.ErrOutOfRange}, ""},
		{"malformed", llm.ErrMalformedTask, textRegisterFailed},
		{"other", errors.New("boom"), textRegisterFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := registrationErrorText(tt.err)
			if tt.want == "" {
				if !strings.HasPrefix(got, "❌ This schedule cannot be used:") {
					t.Fatalf("got %q", got)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("registrationErrorText(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	name, args := parseCommand("/Delete@MilaBot  alice_x.txt ")
	assert.Equal(t, "delete", name)
	assert.Equal(t, []string{"alice_x.txt"}, args)

	name, args = parseCommand("/")
	assert.Equal(t, "", name)
	assert.Empty(t, args)
}

func TestModeStoreTTL(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newModeStore(func() time.Time { return now })
	k := modeKey{chat: 1, user: 1}

	s.set(k, modeDelete)
	assert.Equal(t, modeDelete, s.take(k, time.Minute))
	assert.Equal(t, modeIdle, s.take(k, time.Minute))

	s.set(k, modeNewTask)
	now = now.Add(2 * time.Minute)
	assert.Equal(t, modeIdle, s.take(k, time.Minute))
	assert.Zero(t, s.len())
}
