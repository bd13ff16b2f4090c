package notifier

import (
	"context"

	kit "changewatch/internal/transport"
)

// Deliver sends text to a user chat now and reports the final outcome. It
// shares the rate limiter and retry policy with queued alerts but skips
// dedup: every change summary is distinct.
func (s *Service) Deliver(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	err := s.send(ctx, to, text, opt)
	n := kit.Notification{Channel: "telegram", Target: to}
	if err != nil {
		s.publish("notifier.failed", n, "", err.Error())
		return err
	}
	s.publish("notifier.sent", n, "", "")
	return nil
}
