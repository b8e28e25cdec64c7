// Package engine runs the simulation side of the server.
//
// The engine owns no sockets. It consumes requests from the network loop and
// answers them through the network mailbox:
//   - RequestNewSession issues a token and replies with NewSession
//   - AttemptAuthSession consults the Authorizer and replies with AuthSuccess or AuthFail
//   - RequestWorldState replies with a WorldState snapshot
//   - ConnectionClosed releases the connection's session
//
// Core Types:
//
// Engine is the simulation loop. TokenSource draws session tokens; BoundedRandom
// reproduces the classic 3^9 token space and CryptoRandom draws from crypto/rand.
// Authorizer decides whether a presented token is accepted. AcceptAll accepts
// every attempt and exists only as a placeholder until real credentials are
// wired in; IssuedOnly accepts a token only from the connection it was issued to.
//
// Usage:
//
//	eng := engine.New(engine.Config{
//		Inbox:    simInbox,
//		Outbox:   netInbox,
//		Sessions: session.NewManager(),
//		Logger:   logger,
//	})
//	go eng.Run(ctx)
//
// World State:
//
// Gameplay is out of scope. WorldState replies carry the engine tick and no
// data, which is enough for clients to confirm the round trip.
package engine
