// Package authcore provides the token core for a session-based web backend:
// JWT signing-key lifecycle with JWKS publication, and refresh-token session
// families with rotation, replay detection, and device-aware session listings.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (MetricsSnapshot, AuditEvent, etc.). Key material handling
// lives in the keys subpackage and session family state in the family
// subpackage; both are usable standalone, and the Engine composes them.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store handles, or private key bytes in Engine
//     return values.
//   - Trust any cached verdict over the durable stores for a security
//     decision; caches accelerate, Postgres decides.
//   - Treat coordination-layer unavailability as permission to proceed:
//     rotation fails closed when Redis is unreachable.
//
// # Performance contract
//
// VerifyAccessToken is the hot path. It completes without any store
// round-trip once the signing key is cached in-process, and PublicJWKS
// serves from a TTL cache between key rotations. RotateSession costs one
// Redis mutex round-trip plus one durable transaction per call.
package authcore
