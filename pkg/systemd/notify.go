package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

const (
	NotifyReady     = daemon.SdNotifyReady
	NotifyStopping  = daemon.SdNotifyStopping
	NotifyReloading = daemon.SdNotifyReloading
	NotifyWatchdog  = daemon.SdNotifyWatchdog
)

// Notify sends state to the service manager. It reports false with a nil
// error when the process is not running under systemd notify.
func Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// WatchdogInterval is how often to send NotifyWatchdog, or 0 when the
// watchdog is off. systemd expects pings at half its timeout.
func WatchdogInterval() (time.Duration, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, err
	}
	return d / 2, nil
}
