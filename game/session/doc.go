// Package session keeps the simulation's record of issued session tokens.
//
// The session package implements:
//   - Token issuance bookkeeping per connection
//   - Authentication state per connection
//   - Unique tokens at issuance (authenticated clients may share one)
//   - Expiry of sessions that were issued but never used
//
// Core Types:
//
// Manager is the registry. Session binds one token to one connection and records
// whether the token has been authenticated yet.
//
// Concurrency:
//
// The simulation loop is the only writer. The status API reads sessions from
// HTTP handlers, so the manager guards its maps with a read-write lock.
//
// Usage:
//
//	manager := session.NewManager()
//
//	// Simulation issued a token
//	sess, err := manager.Issue(connID, token)
//	if errors.Is(err, session.ErrTokenInUse) {
//		// draw another token
//	}
//
//	// Authorizer accepted an attempt
//	sess, err = manager.Authenticate(connID, token)
//
//	// Network loop reaped the connection
//	manager.Release(connID)
//
// Cleanup:
//
// Pending sessions are dropped by CleanupExpiredSessions once they are older than
// the configured TTL. Sessions are never persisted; a restart forgets them all.
package session
