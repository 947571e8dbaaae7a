package command

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel failures of the check chain and invocation pipeline. The
// dispatcher routes every one of these to a fixed user-facing reply; see
// routeError.
var (
	ErrPrivilege      = errors.New("insufficient privileges")
	ErrDisabled       = errors.New("command is disabled")
	ErrNotEnoughVotes = errors.New("not enough votes")
	ErrOutOfMemory    = errors.New("not enough available memory")
	ErrInvalidFile    = errors.New("invalid file type")
	ErrNoUserReply    = errors.New("no reply from user")
)

// BadArgumentError is raised by failed argument conversion, before any check
// runs. The reply includes a usage hint.
type BadArgumentError struct {
	Message string
	Usage   string
}

func (e *BadArgumentError) Error() string { return e.Message }

// CooldownError carries the remaining retry time for the invocation's bucket.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("command is on cooldown, retry in %s", e.RetryAfter.Round(time.Second))
}

// NotFoundError names a missing resource (file, subreddit, user, sound).
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// BotPermissionError tells the user which bot permission is missing and
// where.
type BotPermissionError struct {
	Missing string
	Where   string
}

func (e *BotPermissionError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("I am missing the %s permission", e.Missing)
	}
	return fmt.Sprintf("I am missing the %s permission in %s", e.Missing, e.Where)
}

// FileTooLargeError reports the configured download limit.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file is too large (%d bytes, limit %d bytes)", e.Size, e.Limit)
}

// APIError wraps a third-party failure; the short message is shown, the
// wrapped error is logged.
type APIError struct {
	Service string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s request failed", e.Service)
}

func (e *APIError) Unwrap() error { return e.Err }
