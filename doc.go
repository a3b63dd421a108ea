// Package auth provides bearer token authentication and privilege based
// authorization backed by Bun repositories.
//
// Sessions:
//   - TokenService signs short lived HS256 JWTs for an Identity. Validate
//     rejects expired, malformed and revoked tokens; Revoke records the token
//     in a RevocationStore until it would have expired anyway. Stores live in
//     the revocation package (memory, redis, database).
//
// One-time codes:
//   - OneTimeTokenService issues six digit codes for account activation and
//     password resets. Codes expire after fifteen minutes and a code can be
//     consumed only once, even under concurrent requests.
//
// Privileges:
//   - A privilege is a MODULE, SUB_MODULE and TYPE triple. PrivilegeAuthorizer
//     grants a request when the principal holds any of the required
//     privileges and denies everything else, including store failures.
//     Grants are read on every check, never from the token.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     authorizer and the command handlers. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package auth
