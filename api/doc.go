// Package api exposes the annotation store pool over HTTP. It owns request
// dispatch: resolving the store id and operation from the route, negotiating
// the output format against each endpoint's capability table before any store
// is touched, acquiring the right access mode from the pool, delegating to
// the engine, and serializing the result.
//
// Every error is recovered at the request boundary and mapped to a status
// code with a structured JSON body; nothing here crashes the process. Access
// tokens are scoped to the request via the pool's Map/MapMut helpers, so a
// borrow can never outlive the request that created it, even on a panic.
package api
