// Package player runs external viewer and player binaries.
package player

import (
	"context"
	"time"

	"github.com/mesophy/signaged/internal/model"
)

// ExitStatus describes how a player process ended.
type ExitStatus struct {
	Code    int
	Signal  string
	Stopped bool
	Err     error
}

// Graceful reports a clean exit, or a stop requested by the daemon.
func (s ExitStatus) Graceful() bool {
	return s.Stopped || (s.Err == nil && s.Code == 0 && s.Signal == "")
}

// Handle is one running player process.
type Handle interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Exit is valid after Done is closed.
	Exit() ExitStatus
	// Stop asks the process to exit, kills it after grace, and waits.
	Stop(grace time.Duration)
}

type ExternalPlayer interface {
	Start(ctx context.Context, localPath string, kind model.MediaKind, durationHint time.Duration) (Handle, error)
}
