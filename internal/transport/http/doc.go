// Package http implements the HTTP handlers of the dive web service. The
// handlers are thin: they decode and validate requests, call the session
// service and render its results or an RFC 7807 problem.
//
// Routes mounted by the application:
//
//	/api/genome, /api/dive, /api/compare     session setup
//	/api/stacks/...                          stack intents
//	/api/counts/..., /api/enrichment         counting and enrichment jobs
//	/api/navigation                          request cancellation on navigation
//	/api/export/...                          CSV and XLSX downloads
//	/api/health/..., /api/version            health checks
//	/ws                                      selection and progress events
package http
