// Package auth provides the sign-in collaborator used by camera sessions.
//
// Tokens are JWTs issued by the analysis service's /login endpoint and are
// persisted as a small JSON file with owner-only permissions. Manager caches
// the current token, treats it as expired slightly before its exp claim, and
// collapses concurrent refreshes into one store read. Watcher reloads the
// cache when another process (typically `shadowcam login`) rewrites the file.
package auth
