// Package enforcement defines the capability boundary to the OS-level
// app-blocking facility and the bounded retry and timeout policy the engine
// applies to every call across it.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/deepfocus/internal/focus/domain"
)

// Attempt is an OS-reported open of a blocked app. The adapter does not know
// which session is active; the engine attaches that.
type Attempt struct {
	AppID     string
	Timestamp time.Time
}

// Adapter blocks and unblocks apps. Block and Unblock must be idempotent:
// blocking the same set twice, or unblocking while clear, succeeds as a no-op.
type Adapter interface {
	// Block engages blocking for appIDs, replacing any previous set.
	Block(ctx context.Context, appIDs []string) error

	// Unblock releases all blocking.
	Unblock(ctx context.Context) error

	// SubscribeAttempts registers fn for attempt events until ctx is done.
	SubscribeAttempts(ctx context.Context, fn func(Attempt)) error
}

// Kind is the closed set of enforcement failure kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindPlatformUnsupported
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindPlatformUnsupported:
		return "platform_unsupported"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a Kind.
var (
	ErrPermissionDenied    = errors.New("enforcement permission denied")
	ErrPlatformUnsupported = errors.New("enforcement platform unsupported")
	ErrTimeout             = errors.New("enforcement call timed out")
	ErrUnknown             = errors.New("enforcement failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindPlatformUnsupported:
		return ErrPlatformUnsupported
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// Error is the typed failure returned across the adapter boundary.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the Kind's sentinel, and domain.ErrEnforcementTimeout for timeouts.
func (e *Error) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	return e.Kind == KindTimeout && target == domain.ErrEnforcementTimeout
}

// NewError builds an Error for op.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf classifies err. Errors that are not *Error are KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether retrying could change the outcome.
// Permission and platform failures are permanent.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindUnknown
}
