// Package family implements the refresh-token session-family state machine:
// one live refresh token per family, mutex-protected rotation, replay and
// cross-family reuse detection, and cascading revocation.
package family

import "time"

// Revocation reason codes recorded on the family row and in audit events.
const (
	ReasonReplayDetected = "replay detected"
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout all"
	ReasonAdminRevoked   = "admin revoked"
)

// Family is one device/login session family. Exactly one jti is live for a
// family at any time; CurrentJTI is mutated only by successful rotation.
type Family struct {
	FamilyID         string
	UserID           string
	DeviceHash       string
	UserAgent        string
	IPAddress        string
	CurrentJTI       string
	RefreshTokenHash string
	RevokedAt        *time.Time
	RevocationReason string
	// ReusedJTIOf records which jti was illegitimately replayed when the
	// family was revoked for replay. Forensic only.
	ReusedJTIOf string
	CreatedAt   time.Time
	LastUsed    time.Time
	ExpiresAt   time.Time
}

// Revoked reports whether the family is permanently dead.
func (f Family) Revoked() bool {
	return f.RevokedAt != nil
}

// DeviceInfo is the caller-supplied device context captured at login.
// It feeds the display-only device hash and session-list labels and is never
// consulted for authorization.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// SessionSummary is the session-list view of a family, safe to show to the
// owning user. Token material never appears here.
type SessionSummary struct {
	FamilyID   string
	DeviceType string
	Location   string
	CreatedAt  time.Time
	LastUsed   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	// Current marks the family the caller is acting from; see MarkCurrent.
	Current bool
}

// MarkCurrent flags the summary matching the caller's own family, so a
// session-list UI can label "this device". Only the caller knows which
// family its token belongs to; the manager does not.
func MarkCurrent(summaries []SessionSummary, familyID string) {
	for i := range summaries {
		summaries[i].Current = summaries[i].FamilyID == familyID
	}
}
