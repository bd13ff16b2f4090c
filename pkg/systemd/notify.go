// Package systemd reports service state to the service manager via
// sd_notify. Every call is a no-op outside a notify-type unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Ready reports that startup finished.
func Ready() (bool, error) { return notify(daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func Stopping() (bool, error) { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return notify("STATUS=" + msg) }

// Watchdog pings the watchdog at half the configured interval until ctx
// is done. It returns immediately when the unit has no watchdog.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
