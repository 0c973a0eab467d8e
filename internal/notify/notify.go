package notify

import (
	"context"
	"fmt"
	"time"
)

// Kind classifies a security alert.
type Kind string

const (
	KindRequestBlocked Kind = "request_blocked"
	KindAccountLocked  Kind = "account_locked"
)

// Alert is a security event worth telling an operator about.
type Alert struct {
	Kind    Kind
	Subject string // source address or username
	Detail  string
	Time    time.Time
}

func (a Alert) Text() string {
	switch a.Kind {
	case KindRequestBlocked:
		return fmt.Sprintf("🚫 Request blocked from %s (pattern: %s) at %s", a.Subject, a.Detail, a.Time.Format(time.RFC3339))
	case KindAccountLocked:
		return fmt.Sprintf("🔒 Account %q temporarily locked: %s (at %s)", a.Subject, a.Detail, a.Time.Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s %s: %s", a.Kind, a.Subject, a.Detail)
	}
}

// Notifier delivers alerts. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) {}
