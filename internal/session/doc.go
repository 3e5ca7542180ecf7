// Package session decides whether the companion may talk to the backend.
//
// The Guard reads the raw JWT from the state store and decodes it without
// verifying the signature; the client has no key and the backend verifies.
// Only the exp claim matters here. A missing token, a token that does not
// decode, a token without exp, or an expired token all make IsValid return
// false. Nothing in this package reports decode problems as errors.
//
// The Authenticator wraps the login and logout calls. Logout clears local
// session state only after the backend confirms, then runs the registered
// hooks so the uploader stops.
package session
