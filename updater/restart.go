package updater

import (
	"os"
	"syscall"

	"github.com/razumnyak/infractl/logger"
)

// Restart hands control to the freshly installed binary. Under systemd the
// process simply exits and lets the unit's Restart= policy bring the new
// binary up; outside systemd it re-execs itself in place.
func Restart(log logger.Logger) error {
	if os.Getenv("INVOCATION_ID") != "" || os.Getenv("NOTIFY_SOCKET") != "" {
		log.Notice("Exiting for systemd to restart with the new binary")
		os.Exit(0)
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}
	log.Notice("Re-executing %s", self)
	return syscall.Exec(self, os.Args, os.Environ())
}
