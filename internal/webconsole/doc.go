// Package webconsole serves the operator console over HTTP.
//
// Each signed-in operator gets a Workspace holding their session, an API
// client carrying their token, a collection orchestrator, the moderation
// desk and a notice inbox. Workspaces live in an in-memory cache bounded by
// size and idle time; the session itself is kept in the store, so an evicted
// workspace is rebuilt on the operator's next request.
//
// Pages are server-rendered with html/template. Every mutation is a form POST
// carrying a CSRF token and answered with a redirect back to the page, and
// pending notices are shown once on the next render.
//
// When the backend answers 401 the session is cleared and the operator is
// sent to /login.
package webconsole
