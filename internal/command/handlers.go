package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"relaybot/internal/reminder"
	"relaybot/internal/routing"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

func (d *Dispatcher) commands() []Command {
	return []Command{
		{Name: ".ping", Exact: true, Handle: d.handlePing},
		{Name: ".help", Exact: true, Handle: d.handleHelp},
		{Name: ".remind", Handle: d.handleRemind},
		{Name: ".listremind", Exact: true, Handle: d.handleListRemind},
		{Name: ".delremind", Handle: d.handleDelRemind},

		{Name: ".listgroups", Exact: true, Access: AccessAdmin, Handle: d.handleListGroups},
		{Name: ".listsenders", Access: AccessAdmin, Handle: d.handleListSenders},
		{Name: ".addgroup", Access: AccessAdmin, Handle: d.handleAddGroup},
		{Name: ".delgroup", Access: AccessAdmin, Handle: d.handleDelGroup},
		{Name: ".addsender", Access: AccessAdmin, Handle: d.handleAddSender},
		{Name: ".delsender", Access: AccessAdmin, Handle: d.handleDelSender},
		{Name: ".settarget", Access: AccessAdmin, Handle: d.handleSetTarget},
		{Name: ".setdefault", Access: AccessAdmin, Handle: d.handleSetDefault},
		{Name: ".listconfig", Exact: true, Access: AccessAdmin, Handle: d.handleListConfig},
	}
}

func (d *Dispatcher) handlePing(ctx context.Context, req *Request) error {
	req.Reply(ctx, msgPong)
	return nil
}

func (d *Dispatcher) handleHelp(ctx context.Context, req *Request) error {
	req.Reply(ctx, helpText)
	return nil
}

func (d *Dispatcher) handleRemind(ctx context.Context, req *Request) error {
	text, deadline, ok := parseRemind(req.Body, d.loc)
	if !ok {
		req.Reply(ctx, msgRemindUsage)
		return nil
	}
	if !deadline.After(req.At) {
		req.Reply(ctx, msgRemindPast)
		return nil
	}
	r, err := d.sched.Create(ctx, req.ChatID, text, deadline)
	if err != nil && r.ID == 0 {
		req.Reply(ctx, msgRemindSaveFail)
		return fmt.Errorf("create reminder: %w", err)
	}
	if err != nil {
		req.Logger.Warn("reminder stored but arming failed", logx.Int64("id", r.ID), logx.Err(err))
	}
	req.Reply(ctx, fmt.Sprintf(msgRemindSaved, r.ID))
	return nil
}

func (d *Dispatcher) handleListRemind(ctx context.Context, req *Request) error {
	rows, err := d.reminders.ListRemindersByDestination(ctx, req.ChatID)
	if err != nil {
		req.Reply(ctx, msgListRemindFail)
		return fmt.Errorf("list reminders: %w", err)
	}
	if len(rows) == 0 {
		req.Reply(ctx, msgListRemindEmpty)
		return nil
	}
	var b strings.Builder
	b.WriteString(msgListRemindHead)
	for _, r := range rows {
		fmt.Fprintf(&b, "\n🆔 %d | %s | %s (%s)",
			r.ID, r.Text,
			reminder.FormatLocal(r.Deadline, d.loc),
			humanize.RelTime(req.At, r.Deadline, "lagi", "lalu"),
		)
	}
	req.Reply(ctx, b.String())
	return nil
}

func (d *Dispatcher) handleDelRemind(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		req.Reply(ctx, msgDelRemindUsage)
		return nil
	}
	id, err := strconv.ParseInt(req.Args[1], 10, 64)
	if err != nil {
		req.Reply(ctx, msgDelRemindNaN)
		return nil
	}
	if err := d.sched.Cancel(ctx, id); err != nil {
		req.Reply(ctx, msgDelRemindFail)
		return fmt.Errorf("cancel reminder %d: %w", id, err)
	}
	req.Reply(ctx, fmt.Sprintf(msgDelRemindOK, id))
	return nil
}

func (d *Dispatcher) handleListGroups(ctx context.Context, req *Request) error {
	st := d.routing.Snapshot()
	names := st.GroupNames()
	if len(names) == 0 {
		req.Reply(ctx, msgGroupsEmpty)
		return nil
	}
	lines := make([]string, 0, len(names))
	for _, name := range names {
		g := st.Groups[name]
		target := g.Target
		if target == "" {
			target = "(no target)"
		}
		lines = append(lines, fmt.Sprintf("%s -> %s (%d senders)", name, target, len(g.Senders)))
	}
	req.Reply(ctx, msgGroupsHead+strings.Join(lines, "\n"))
	return nil
}

func (d *Dispatcher) handleListSenders(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		req.Reply(ctx, usage(".listsenders <group>"))
		return nil
	}
	name := req.Args[1]
	g, ok := d.routing.Snapshot().Groups[name]
	if !ok {
		req.Reply(ctx, msgGroupNotFound)
		return nil
	}
	list := strings.Join(g.Senders, "\n")
	if list == "" {
		list = msgNoSenders
	}
	req.Reply(ctx, fmt.Sprintf(msgSendersHead, name)+list)
	return nil
}

func (d *Dispatcher) handleAddGroup(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		req.Reply(ctx, usage(".addgroup <group> <targetId>"))
		return nil
	}
	name, target := req.Args[1], req.Args[2]
	return d.mutate(ctx, req,
		func(st *routing.State) error { return st.AddGroup(name, target) },
		fmt.Sprintf(auditAddGroup, req.ChatID, name, target),
		fmt.Sprintf(msgGroupAdded, name, target),
	)
}

func (d *Dispatcher) handleDelGroup(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		req.Reply(ctx, usage(".delgroup <groupName>"))
		return nil
	}
	name := req.Args[1]
	return d.mutate(ctx, req,
		func(st *routing.State) error { return st.DeleteGroup(name) },
		fmt.Sprintf(auditDelGroup, req.ChatID, name),
		fmt.Sprintf(msgGroupDeleted, name),
	)
}

func (d *Dispatcher) handleAddSender(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		req.Reply(ctx, usage(".addsender <group> <email>"))
		return nil
	}
	name, email := req.Args[1], strings.ToLower(req.Args[2])
	return d.mutate(ctx, req,
		func(st *routing.State) error { return st.AddSender(name, email) },
		fmt.Sprintf(auditAddSender, req.ChatID, email, name),
		fmt.Sprintf(msgSenderAdded, email, name),
	)
}

func (d *Dispatcher) handleDelSender(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		req.Reply(ctx, usage(".delsender <group> <email>"))
		return nil
	}
	name, email := req.Args[1], strings.ToLower(req.Args[2])
	return d.mutate(ctx, req,
		func(st *routing.State) error { return st.RemoveSender(name, email) },
		fmt.Sprintf(auditDelSender, req.ChatID, email, name),
		fmt.Sprintf(msgSenderRemove, email, name),
	)
}

func (d *Dispatcher) handleSetTarget(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		req.Reply(ctx, usage(".settarget <group> <targetId>"))
		return nil
	}
	name, target := req.Args[1], req.Args[2]
	return d.mutate(ctx, req,
		func(st *routing.State) error { return st.SetTarget(name, target) },
		fmt.Sprintf(auditSetTarget, req.ChatID, name, target),
		fmt.Sprintf(msgTargetSet, name, target),
	)
}

func (d *Dispatcher) handleSetDefault(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		req.Reply(ctx, usage(".setdefault <targetId>"))
		return nil
	}
	target := req.Args[1]
	return d.mutate(ctx, req,
		func(st *routing.State) error { st.SetDefault(target); return nil },
		fmt.Sprintf(auditSetDef, req.ChatID, target),
		fmt.Sprintf(msgDefaultSet, target),
	)
}

func (d *Dispatcher) handleListConfig(ctx context.Context, req *Request) error {
	doc, err := routing.MarshalIndent(d.routing.Snapshot())
	if err != nil {
		return fmt.Errorf("render routing document: %w", err)
	}
	req.Reply(ctx, msgConfigHead+doc)
	return nil
}

// mutate runs fn through the routing store, audits on success and replies
// with ok or the matching failure text.
func (d *Dispatcher) mutate(ctx context.Context, req *Request, fn func(*routing.State) error, auditMsg, ok string) error {
	_, err := d.routing.Update(ctx, fn)
	switch {
	case errors.Is(err, routing.ErrGroupNotFound):
		req.Reply(ctx, msgGroupNotFound)
		return nil
	case errors.Is(err, routing.ErrGroupExists):
		req.Reply(ctx, msgGroupExists)
		return nil
	case err != nil:
		req.Reply(ctx, msgConfigFail)
		return err
	}
	d.auditAdmin(ctx, req, auditMsg)
	req.Reply(ctx, ok)
	return nil
}

func (d *Dispatcher) auditAdmin(ctx context.Context, req *Request, msg string) {
	req.Logger.Audit("ADMIN", msg)
	if d.audit == nil {
		return
	}
	e := storage.AuditEntry{At: d.now(), Tag: "ADMIN", Actor: req.ChatID, Message: msg}
	if err := d.audit.AppendAudit(ctx, e); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}
