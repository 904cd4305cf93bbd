package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventKeyRotation         = "key_rotation"
	auditEventKeyEmergencyRevoked = "key_emergency_revoked"
	auditEventFamilyCreated       = "session_family_created"
	auditEventSessionRotated      = "session_rotated"
	auditEventReplayDetected      = "replay_detected"
	auditEventReuseDetected       = "token_reuse_detected"
	auditEventFamilyRevoked       = "session_family_revoked"
	auditEventLogoutAll           = "logout_all"
	auditEventSessionCleanup      = "session_cleanup"
)

// AuditErrorCode is the stable error label recorded on audit events in place
// of raw error strings.
type AuditErrorCode string

const (
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrKeyRevoked         AuditErrorCode = "key_revoked"
	auditErrAlgorithmMismatch  AuditErrorCode = "algorithm_mismatch"
	auditErrNoCurrentKey       AuditErrorCode = "no_current_key"
	auditErrKeyNotFound        AuditErrorCode = "key_not_found"
	auditErrReplay             AuditErrorCode = "replay_detected"
	auditErrReuse              AuditErrorCode = "token_reuse"
	auditErrConcurrentRefresh  AuditErrorCode = "concurrent_refresh"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrBackendUnavailable AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	familyID string,
	keyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		FamilyID:  familyID,
		KeyID:     keyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplay
	case errors.Is(err, ErrRefreshReuse):
		return auditErrReuse
	case errors.Is(err, ErrConcurrentRefresh):
		return auditErrConcurrentRefresh
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrKeyRevoked):
		return auditErrKeyRevoked
	case errors.Is(err, ErrAlgorithmMismatch):
		return auditErrAlgorithmMismatch
	case errors.Is(err, ErrNoCurrentKey):
		return auditErrNoCurrentKey
	case errors.Is(err, ErrKeyNotFound):
		return auditErrKeyNotFound
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrCoordinationUnavailable),
		errors.Is(err, ErrStoreUnavailable):
		return auditErrBackendUnavailable
	default:
		return auditErrInternal
	}
}
