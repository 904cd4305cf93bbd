// Package middleware exposes an HTTP adapter for bearer-token enforcement
// built on top of authcore.Engine introspection.
//
// [Guard] reads the Authorization header, introspects the access token, and
// injects the result into the request context for [TokenFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement verification logic itself; all decisions are delegated to
// Engine.IntrospectAccessToken, which covers both signature validity and
// post-issuance family revocation.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis or the durable stores (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject.
package middleware
