// Package auth manages the operator session of the console.
//
// # Session
//
// A Session stores three keys in a store.KV namespace:
//
//   - token: the backend access token, sealed when a secret is configured
//   - user: the operator's profile as returned by users/me
//   - authData: when and how the operator signed in
//
// A session is authenticated while a token is present. Nothing here checks
// token expiry; the backend answers 401 for stale tokens and the console
// reacts by calling Logout.
//
// # Login
//
// Login exchanges credentials for a token, stores it, then fetches the
// profile with that token. If the profile does not carry the required role
// the token is removed again and ErrAccessDenied is returned, so a
// non-privileged account never leaves a token behind.
//
// # Tokens at rest
//
// A Sealer encrypts tokens with NaCl secretbox before they reach the store,
// which matters when the store is shared (redis) or lives on disk (sqlite).
package auth
