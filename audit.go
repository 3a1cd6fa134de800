package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/internal/audit"
)

type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

const (
	EventSignup              = audit.EventSignup
	EventLogin               = audit.EventLogin
	EventLoginPasskey        = audit.EventLoginPasskey
	EventLoginThrottled      = audit.EventLoginThrottled
	EventEmailVerified       = audit.EventEmailVerified
	EventVerificationResent  = audit.EventVerificationResent
	EventPasswordResetIssued = audit.EventPasswordResetIssued
	EventPasswordReset       = audit.EventPasswordReset
	EventTwoFactorVerified   = audit.EventTwoFactorVerified
	EventTwoFactorEnrolled   = audit.EventTwoFactorEnrolled
	EventPasskeyRegistered   = audit.EventPasskeyRegistered
	EventLogout              = audit.EventLogout
	EventLogoutAll           = audit.EventLogoutAll
	EventRateLimited         = audit.EventRateLimited
)

// NewZerologAuditSink is re-exported so servers can log audit events
// without importing an internal package.
var NewZerologAuditSink = audit.NewZerologSink

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

// AuditDropped returns the number of events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
