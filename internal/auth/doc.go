// Package auth provides token verification for the coordinator's control API.
//
// It implements a 3-tier role model (user → bench → admin) carried in
// HS256-signed JWT claims:
//   - Tokens are minted by the provisioning tooling, never by this service
//   - Verification is signature-only: no user store, no network round-trip
//   - Each token carries a role, a session ID, and a unique JTI
//
// The role decides what a caller may touch: users adjust volumes, bench
// rigs additionally inject synthetic key events, admin tooling gets
// everything.
package auth
