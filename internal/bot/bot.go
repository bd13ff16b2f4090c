// Package bot answers Telegram commands: account linking, listing
// subscriptions, reactivation and manual runs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"changewatch/internal/monitor"
	rtsup "changewatch/internal/runtime/supervisor"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
	kit "changewatch/internal/transport"
	logx "changewatch/pkg/logx"
	"changewatch/pkg/tgui"
)

// errUsage marks replies that already told the user what went wrong.
var errUsage = errors.New("usage")

// AuditStore records command outcomes.
type AuditStore interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Store is the persistence the commands need.
type Store interface {
	AuditStore
	ConsumeLinkToken(ctx context.Context, token string, chatID int64, username string, now time.Time) (*subscription.User, error)
	UserByChatID(ctx context.Context, chatID int64) (*subscription.User, error)
	ListSubscriptions(ctx context.Context, f storage.SubscriptionFilter) ([]subscription.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*subscription.Subscription, error)
	UpdateBackoff(ctx context.Context, s *subscription.Subscription) error
}

// Runner queues manual runs.
type Runner interface {
	RunNow(ctx context.Context, id int64) (<-chan monitor.Outcome, error)
}

type Options struct {
	Adapter kit.Adapter
	Store   Store
	Runner  Runner
	Policy  subscription.Policy
	// Owners are Telegram user ids allowed to act on every subscription.
	Owners []int64
	// Timeout bounds one command; /run waits at most this long for the
	// outcome before replying that the run is queued.
	Timeout time.Duration
	Workers int
	Log     logx.Logger
	Now     func() time.Time
}

// Request is one parsed command message.
type Request struct {
	Chat     kit.ChatTarget
	FromID   int64
	Username string
	Private  bool
	Command  string
	Args     []string
	Owner    bool
}

type command struct {
	name    string
	aliases []string
	usage   string
	desc    string
	handle  HandlerFunc
}

type Bot struct {
	opt  Options
	log  logx.Logger
	cmds map[string]*command
	list []*command

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(opt Options) *Bot {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	b := &Bot{opt: opt, log: opt.Log.With(logx.String("comp", "bot")), cmds: map[string]*command{}}
	b.register()
	return b
}

func (b *Bot) add(c *command) {
	mw := []Middleware{
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWAudit(b.opt.Store, b.log),
		MWTimeout(b.opt.Timeout),
	}
	c.handle = Chain(c.handle, mw...)
	b.list = append(b.list, c)
	b.cmds[c.name] = c
	for _, a := range c.aliases {
		b.cmds[a] = c
	}
}

// Start begins polling and dispatching updates until ctx is done or Stop
// is called.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup != nil {
		return nil
	}
	updates := make(chan kit.Update, 64)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(b.log), rtsup.WithCancelOnError(false))
	for i := 0; i < b.opt.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("dispatch.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return c.Err()
				case up := <-updates:
					b.Handle(c, up)
				}
			}
		}, rtsup.WithPublishFirstError(true))
	}
	if err := b.opt.Adapter.Start(sup.Context(), updates); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		return err
	}
	b.sup = sup
	b.log.Info("bot started", logx.Int("owners", len(b.opt.Owners)))
	return nil
}

func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.runMu.Unlock()
	if sup == nil {
		return
	}
	_ = b.opt.Adapter.Stop(ctx)
	sup.Cancel()
	_ = sup.Wait(ctx)
	b.log.Info("bot stopped")
}

// Handle parses and runs one update. Non-command text is ignored.
func (b *Bot) Handle(ctx context.Context, up kit.Update) {
	m := up.Message
	if m == nil {
		return
	}
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	c := b.cmds[name]
	if c == nil {
		if m.IsPrivate {
			b.reply(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, "Unknown command. Try /help.")
		}
		return
	}
	req := &Request{
		Chat:     kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		FromID:   m.FromID,
		Username: m.FromUsername,
		Private:  m.IsPrivate,
		Command:  c.name,
		Args:     args,
		Owner:    slices.Contains(b.opt.Owners, m.FromID),
	}
	if err := c.handle(ctx, req); err != nil && !errors.Is(err, errUsage) {
		b.reply(ctx, req.Chat, "⚠️ "+tgui.Esc(userMessage(err)).String())
	}
}

// parseCommand splits "/name@bot a b" into ("name", ["a","b"]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not found"
	case errors.Is(err, storage.ErrTokenExpired):
		return "this link token has expired, ask for a new one"
	case errors.Is(err, monitor.ErrInFlight):
		return "that subscription is already running"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return "internal error"
	}
}

func (b *Bot) reply(ctx context.Context, to kit.ChatTarget, text string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := b.opt.Adapter.SendText(sctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		b.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
