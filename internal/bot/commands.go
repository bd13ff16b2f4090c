package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"changewatch/internal/monitor"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
	logx "changewatch/pkg/logx"
	"changewatch/pkg/tgui"
)

func (b *Bot) register() {
	b.add(&command{name: "start", usage: "/start [token]", desc: "link this chat or show help", handle: b.cmdStart})
	b.add(&command{name: "link", usage: "/link <token>", desc: "link this chat to your account", handle: b.cmdLink})
	b.add(&command{name: "subs", aliases: []string{"list"}, usage: "/subs", desc: "list your subscriptions", handle: b.cmdSubs})
	b.add(&command{name: "reactivate", usage: "/reactivate <id>", desc: "resume a paused subscription", handle: b.cmdReactivate})
	b.add(&command{name: "run", usage: "/run <id>", desc: "check a subscription now", handle: b.cmdRun})
	b.add(&command{name: "help", aliases: []string{"h"}, usage: "/help", desc: "show this help", handle: b.cmdHelp})
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	var sb strings.Builder
	sb.WriteString("<b>Commands</b>\n")
	for _, c := range b.list {
		fmt.Fprintf(&sb, "%s - %s\n", tgui.Esc(c.usage), tgui.Esc(c.desc))
	}
	b.reply(ctx, req.Chat, sb.String())
	return nil
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		return b.cmdLink(ctx, req)
	}
	b.reply(ctx, req.Chat, "👋 Send <code>/link &lt;token&gt;</code> with the token from your account to receive change notifications here.")
	return nil
}

func (b *Bot) cmdLink(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		b.reply(ctx, req.Chat, "Usage: <code>/link &lt;token&gt;</code>")
		return errUsage
	}
	if !req.Private {
		b.reply(ctx, req.Chat, "Link your account in a private chat with the bot.")
		return errUsage
	}
	u, err := b.opt.Store.ConsumeLinkToken(ctx, req.Args[0], req.Chat.ChatID, req.Username, b.opt.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(ctx, req.Chat, "⚠️ Unknown link token.")
			return errUsage
		}
		return err
	}
	b.reply(ctx, req.Chat, fmt.Sprintf("✅ Linked to %s. Notifications will arrive in this chat.", tgui.B(displayName(u))))
	return nil
}

// caller resolves the linked user. Owners without an account still pass.
func (b *Bot) caller(ctx context.Context, req *Request) (*subscription.User, error) {
	u, err := b.opt.Store.UserByChatID(ctx, req.Chat.ChatID)
	switch {
	case err == nil && u.Active:
		return u, nil
	case err == nil, errors.Is(err, storage.ErrNotFound):
		if req.Owner {
			return nil, nil
		}
		b.reply(ctx, req.Chat, "This chat is not linked. Use <code>/link &lt;token&gt;</code> first.")
		return nil, errUsage
	default:
		return nil, err
	}
}

func (b *Bot) cmdSubs(ctx context.Context, req *Request) error {
	u, err := b.caller(ctx, req)
	if err != nil {
		return err
	}
	f := storage.SubscriptionFilter{Limit: 50}
	if u != nil && !req.Owner {
		f.UserID = u.ID
	}
	subs, err := b.opt.Store.ListSubscriptions(ctx, f)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		b.reply(ctx, req.Chat, "No subscriptions.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString("<b>Subscriptions</b>\n")
	for i := range subs {
		s := &subs[i]
		fmt.Fprintf(&sb, "\n<b>#%d</b> %s · %s · %s", s.ID, tgui.Esc(s.Name), s.Frequency, statusIcon(s))
		if s.NextRun != nil && s.Runnable() {
			fmt.Fprintf(&sb, "\n  next: %s", s.NextRun.UTC().Format("2006-01-02 15:04"))
		}
		if s.AutoPaused {
			fmt.Fprintf(&sb, "\n  %d errors, last: %s", s.ConsecutiveErrors, tgui.I(tgui.TruncRunes(s.LastError, 120)))
		}
	}
	b.reply(ctx, req.Chat, sb.String())
	return nil
}

// ownedSubscription loads the subscription named by the first argument
// and checks the caller may act on it.
func (b *Bot) ownedSubscription(ctx context.Context, req *Request) (*subscription.Subscription, error) {
	if len(req.Args) != 1 {
		b.reply(ctx, req.Chat, fmt.Sprintf("Usage: <code>/%s &lt;id&gt;</code>", req.Command))
		return nil, errUsage
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		b.reply(ctx, req.Chat, "The id must be a positive number.")
		return nil, errUsage
	}
	u, err := b.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	s, err := b.opt.Store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Owner && (u == nil || s.UserID != u.ID) {
		// same answer as a missing id
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (b *Bot) cmdReactivate(ctx context.Context, req *Request) error {
	s, err := b.ownedSubscription(ctx, req)
	if err != nil {
		return err
	}
	if s.Runnable() {
		b.reply(ctx, req.Chat, fmt.Sprintf("#%d is already active.", s.ID))
		return nil
	}
	b.opt.Policy.Reactivate(s)
	if err := b.opt.Store.UpdateBackoff(ctx, s); err != nil {
		return err
	}
	b.log.Info("subscription reactivated", logx.Int64("sub", s.ID), logx.Int64("by", req.FromID))
	b.reply(ctx, req.Chat, fmt.Sprintf("▶️ #%d %s reactivated.", s.ID, tgui.B(s.Name)))
	return nil
}

func (b *Bot) cmdRun(ctx context.Context, req *Request) error {
	s, err := b.ownedSubscription(ctx, req)
	if err != nil {
		return err
	}
	if b.opt.Runner == nil {
		b.reply(ctx, req.Chat, "Manual runs are not available.")
		return errUsage
	}
	ch, err := b.opt.Runner.RunNow(ctx, s.ID)
	if err != nil {
		return err
	}
	select {
	case out := <-ch:
		if out.Err != nil {
			return out.Err
		}
		b.reply(ctx, req.Chat, outcomeText(s, out.Result))
		return nil
	case <-ctx.Done():
		b.reply(ctx, req.Chat, fmt.Sprintf("⏳ #%d is queued; results will arrive as a notification.", s.ID))
		return nil
	}
}

func outcomeText(s *subscription.Subscription, res *monitor.Result) string {
	if res == nil || res.Execution == nil {
		return fmt.Sprintf("#%d finished.", s.ID)
	}
	ex := res.Execution
	if ex.State == subscription.StateFailed {
		msg := fmt.Sprintf("❌ #%d failed: %s", s.ID, tgui.I(tgui.TruncRunes(ex.Error, 200)))
		if res.Paused {
			msg += "\nThe subscription is now paused."
		}
		return msg
	}
	if res.Diff.Empty() {
		return fmt.Sprintf("✅ #%d checked: no changes (%d records).", s.ID, ex.CurrentCount)
	}
	return fmt.Sprintf("✅ #%d checked: +%d ~%d -%d (%d records).", s.ID, ex.Created, ex.Modified, ex.Removed, ex.CurrentCount)
}

func statusIcon(s *subscription.Subscription) string {
	switch s.Status() {
	case "paused":
		return "⏸ paused"
	case "disabled":
		return "⏹ disabled"
	default:
		return "▶️ active"
	}
}

func displayName(u *subscription.User) string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}
