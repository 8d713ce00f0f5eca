package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/schedule"
	kit "github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
	"github.com/utestwalter/Mila/pkg/tgui"
)

func (r *Router) builtinCommands() []Command {
	return []Command{
		{Name: "start", Description: "Show the main menu", Handle: r.handleStart},
		{Name: "help", Aliases: []string{"h"}, Description: "How to use Mila", Handle: r.handleStart},
		{Name: "new", Description: "Describe a new task", Handle: r.handleNewTask},
		{Name: "list", Description: "List your tasks", Handle: r.handleList},
		{Name: "delete", Description: "Delete a task: /delete <id>", Handle: r.handleDeleteCmd},
		{Name: "show", Description: "Show a task: /show <id>", Handle: r.handleShow},
		{Name: "cancel", Description: "Cancel the current step", Handle: r.handleCancel},
		{Name: "status", Description: "Scheduler and engine status", Access: AccessAdmin, Hidden: true, Timeout: 10 * time.Second, Handle: r.handleStatus},
	}
}

func (r *Router) send(ctx context.Context, req *Request, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: tgui.ParseMarkdown, DisablePreview: true}
	}
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

func (r *Router) sendPlain(ctx context.Context, req *Request, text string) error {
	return r.send(ctx, req, text, &kit.SendOptions{DisablePreview: true})
}

func (r *Router) key(req *Request) modeKey { return modeKey{chat: req.Chat.ChatID, user: req.FromID} }

func (r *Router) regRequest(req *Request) registrar.Request {
	return registrar.Request{UserID: req.FromID, Username: req.Username, Chat: req.Chat, Text: req.Text}
}

func (r *Router) handleDenied(ctx context.Context, req *Request) error {
	req.Logger.Info("access denied", logx.String("username", req.Username))
	return r.sendPlain(ctx, req, textNoAccess)
}

func (r *Router) handleUnknown(ctx context.Context, req *Request) error {
	return r.sendPlain(ctx, req, textUnknownCommand)
}

func (r *Router) handleAdminOnly(ctx context.Context, req *Request) error {
	return r.sendPlain(ctx, req, textAdminOnly)
}

func (r *Router) handleStart(ctx context.Context, req *Request) error {
	r.modes.set(r.key(req), modeIdle)
	return r.send(ctx, req, textWelcome, &kit.SendOptions{DisablePreview: true, Keyboard: mainKeyboard})
}

func (r *Router) handleCancel(ctx context.Context, req *Request) error {
	r.modes.set(r.key(req), modeIdle)
	return r.sendPlain(ctx, req, textCancelled)
}

func (r *Router) handleButton(ctx context.Context, req *Request) error {
	// Any button resets a pending step.
	r.modes.set(r.key(req), modeIdle)
	switch req.Text {
	case BtnNewTask:
		return r.handleNewTask(ctx, req)
	case BtnTaskList:
		return r.handleList(ctx, req)
	case BtnDeleteTask:
		return r.promptDelete(ctx, req)
	}
	return nil
}

func (r *Router) handleNewTask(ctx context.Context, req *Request) error {
	r.modes.set(r.key(req), modeNewTask)
	return r.sendPlain(ctx, req, textNewTaskGuide)
}

// handleText consumes the pending step: a delete target in delete mode,
// otherwise a task description.
func (r *Router) handleText(ctx context.Context, req *Request) error {
	switch r.modes.take(r.key(req), r.config().ModeTTL) {
	case modeDelete:
		return r.deleteTask(ctx, req, req.Text)
	default:
		return r.registerTask(ctx, req)
	}
}

func (r *Router) registerTask(ctx context.Context, req *Request) error {
	if err := r.deps.Registrar.CheckText(req.Text); err != nil {
		return r.sendPlain(ctx, req, textTooShort)
	}
	if err := r.sendPlain(ctx, req, textCreating); err != nil {
		req.Logger.Warn("progress message not sent", logx.Err(err))
	}

	reg, err := r.deps.Registrar.Register(ctx, r.regRequest(req))
	if err != nil {
		req.Logger.Warn("task registration failed", logx.Err(err))
		return r.sendPlain(ctx, req, registrationErrorText(err))
	}

	query := noQuery
	if !reg.Task.IsReminder() {
		query = reg.Task.SearchQuery
	}
	next := reg.Next
	if loc, err := schedule.LoadLocation(reg.Task.Schedule.Zone(), time.UTC); err == nil {
		next = next.In(loc)
	}
	text := fmt.Sprintf(textRegisteredFmt,
		tgui.Code(reg.Task.ID),
		tgui.Code(query),
		tgui.EscMD(reg.Schedule),
		tgui.EscMD(next.Format("2006-01-02 15:04 MST")),
		tgui.EscMD(reg.Task.Instructions),
	)
	return r.send(ctx, req, text, nil)
}

func registrationErrorText(err error) string {
	var ce *schedule.ConstructionError
	switch {
	case errors.Is(err, registrar.ErrTooShort):
		return textTooShort
	case errors.Is(err, registrar.ErrScheduleInPast):
		return textInPast
	case errors.As(err, &ce):
		return fmt.Sprintf(textBadScheduleFmt, ce.Error())
	default:
		return textRegisterFailed
	}
}

func formatIDs(ids []string) string {
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, "- "+tgui.Code(id+".txt"))
	}
	return strings.Join(lines, "\n")
}

func (r *Router) handleList(ctx context.Context, req *Request) error {
	ids, err := r.deps.Registrar.List(ctx, req.FromID)
	if err != nil {
		req.Logger.Error("list tasks failed", logx.Err(err))
		return r.sendPlain(ctx, req, textListFailed)
	}
	if len(ids) == 0 {
		return r.sendPlain(ctx, req, textNoTasks)
	}
	return r.send(ctx, req, fmt.Sprintf(textTaskListFmt, formatIDs(ids)), nil)
}

func (r *Router) promptDelete(ctx context.Context, req *Request) error {
	ids, err := r.deps.Registrar.List(ctx, req.FromID)
	if err != nil {
		req.Logger.Error("list tasks failed", logx.Err(err))
		return r.sendPlain(ctx, req, textListFailed)
	}
	if len(ids) == 0 {
		return r.sendPlain(ctx, req, textNoTasksToDelete)
	}
	r.modes.set(r.key(req), modeDelete)
	return r.send(ctx, req, fmt.Sprintf(textDeletePromptFmt, formatIDs(ids)), nil)
}

func (r *Router) handleDeleteCmd(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return r.promptDelete(ctx, req)
	}
	r.modes.set(r.key(req), modeIdle)
	return r.deleteTask(ctx, req, req.Args[0])
}

func (r *Router) deleteTask(ctx context.Context, req *Request, raw string) error {
	id := registrar.NormalizeID(raw)
	label := tgui.Code(id)
	existed, err := r.deps.Registrar.Delete(ctx, r.regRequest(req), raw)
	switch {
	case errors.Is(err, registrar.ErrForbidden), errors.Is(err, storage.ErrInvalidID):
		// Another user's ids are reported as missing.
		return r.send(ctx, req, fmt.Sprintf(textNotFoundFmt, label), nil)
	case err != nil:
		req.Logger.Error("delete task failed", logx.String("task", id), logx.Err(err))
		return r.send(ctx, req, fmt.Sprintf(textDeleteFailedFmt, label), nil)
	case !existed:
		return r.send(ctx, req, fmt.Sprintf(textNotFoundFmt, label), nil)
	}
	return r.send(ctx, req, fmt.Sprintf(textDeletedFmt, label), nil)
}

func (r *Router) handleShow(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return r.sendPlain(ctx, req, textShowUsage)
	}
	id := registrar.NormalizeID(req.Args[0])
	def, found, err := r.deps.Registrar.Show(ctx, req.FromID, id)
	switch {
	case errors.Is(err, registrar.ErrForbidden), errors.Is(err, storage.ErrInvalidID), err == nil && !found:
		return r.send(ctx, req, fmt.Sprintf(textNotFoundFmt, tgui.Code(id)), nil)
	case err != nil:
		req.Logger.Error("show task failed", logx.String("task", id), logx.Err(err))
		return r.sendPlain(ctx, req, textListFailed)
	}
	query := noQuery
	if !def.IsReminder() {
		query = def.SearchQuery
	}
	text := fmt.Sprintf(textShowFmt,
		tgui.Code(def.ID),
		tgui.Code(query),
		tgui.EscMD(schedule.Describe(def.Schedule)),
		tgui.EscMD(def.Instructions),
	)
	return r.send(ctx, req, text, nil)
}
