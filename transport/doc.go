// Package transport executes HTTP calls against the catalogue authority.
//
// The Client injects the bearer credential when a session exists, tags every
// request with an X-Request-ID and normalizes every outcome into either a
// decoded payload, a void result (204 or empty body) or a *Error of one of
// three kinds:
//
//   - KindUnreachable: no response was received (dial failure, timeout, cancellation)
//   - KindHTTP: a non-2xx response without a structured error body, or an undecodable body
//   - KindDomain: a non-2xx response carrying {"error":{"code","message","details"}}
//
// Callers match kinds and domain codes with errors.Is:
//
//	if errors.Is(err, transport.ErrAlreadyBorrowed) {
//		// informational, not fatal
//	}
//
// A missing credential is not an error; the request is sent with reduced
// privileges and the authority decides.
package transport
