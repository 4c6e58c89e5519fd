// Package provisioning pushes subscription decisions to the access router.
// Nothing in here may fail a billing transaction: callers get a bool or a
// queued task, and errors end up in the log.
package provisioning

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownUser = errors.New("router has no secret for user")
	ErrRejected    = errors.New("router did not accept the change")
)

// Error is a device failure for one operation on one user.
type Error struct {
	Op       string
	Username string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning %s for %q: %v", e.Op, e.Username, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Usage struct {
	UploadBytes   int64
	DownloadBytes int64
}

type UsageReader interface {
	LiveUsage(ctx context.Context, username string) (*Usage, error)
}

// Provisioner grants and withdraws network access for a subscriber. It
// reports true when the device accepted the change and logs failures itself.
type Provisioner interface {
	Apply(ctx context.Context, username, profile string) bool
	Revoke(ctx context.Context, username string) bool
}
