package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"changewatch/internal/storage"
	logx "changewatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// MWAudit appends one audit row per command. Audit failures are logged
// and never change the command result.
func MWAudit(store AuditStore, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if store == nil {
				return err
			}
			e := storage.AuditEntry{
				At:            start.UTC(),
				ActorID:       req.FromID,
				ActorUsername: req.Username,
				ChatID:        req.Chat.ChatID,
				Action:        "bot." + req.Command,
				Target:        auditTarget(req),
				OK:            err == nil,
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if aerr := store.AppendAudit(actx, e); aerr != nil {
				log.Debug("audit append failed", logx.Err(aerr))
			}
			cancel()
			return err
		}
	}
}

// auditTarget never records link tokens.
func auditTarget(req *Request) string {
	switch req.Command {
	case "link", "start":
		return ""
	}
	return strings.Join(req.Args, " ")
}
