// Package app wires the dive web service together and manages its
// lifecycle.
//
// New builds the service graph bottom-up from a loaded configuration: the
// remote client and poller, the request lifecycle manager, the dive service
// with its caches, the stack collection, the session service, and the
// websocket hub fed by the selection bridge. It then mounts the HTTP
// handlers behind the middleware chain
//
//	RequestID → RealIP → OTel → Logger → Recoverer → SecurityHeaders → CORS → RateLimit → Timeout
//
// with /ws registered ahead of the chain so the upgrade sees an unwrapped
// ResponseWriter, and /metrics outside it.
//
// Run blocks until SIGINT or SIGTERM and then shuts down gracefully:
// the server drains, outstanding remote jobs are cancelled and every
// subscription is released.
package app
