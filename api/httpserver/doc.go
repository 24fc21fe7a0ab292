// Package httpserver provides the HTTP server shell for the sequencer
// API: routing, logging middleware, health and drain endpoints, and
// graceful shutdown.
//
// # Key Components
//
//   - Server: HTTP server with health checks and lifecycle management
//   - RouteRegistrar: Interface for components to register their routes
//
// # Health and Diagnostics
//
// Every server includes:
//
//   - Liveness Check: verifies the server is running (/livez)
//   - Readiness Check: indicates if the server accepts requests (/readyz)
//   - Drain Control: endpoints to prepare for graceful shutdown (/drain, /undrain)
//   - Profiling: optional pprof debugging endpoints when enabled
//
// # Usage Example
//
//	// Implement the RouteRegistrar interface for your handler
//	func (h *MyHandler) RegisterRoutes(r chi.Router) {
//	    r.Post("/lobby/join", h.handleJoin)
//	}
//
//	srv := httpserver.New(cfg, handler)
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
