package keys

import "time"

// Status is the lifecycle state of a signing key.
type Status string

const (
	// StatusActive marks the single key currently used for signing.
	StatusActive Status = "active"
	// StatusRetired marks a demoted key that still verifies old tokens.
	StatusRetired Status = "retired"
	// StatusRevoked marks a compromised key; revoked keys never verify.
	StatusRevoked Status = "revoked"
)

// Record is a persisted signing key. Private material never leaves the keys
// package through any public read path other than [Store] itself.
type Record struct {
	KeyID            string
	Algorithm        Algorithm
	PrivateMaterial  []byte
	PublicMaterial   []byte
	Status           Status
	CreatedAt        time.Time
	RetiredAt        *time.Time
	RevokedAt        *time.Time
	RevocationReason string
}

// Public returns a copy of the record with private material stripped, for
// callers that list or inspect keys.
func (r Record) Public() Record {
	r.PrivateMaterial = nil
	return r
}
