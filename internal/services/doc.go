// Package services implements the intent layer between the HTTP handlers
// and the dive and selection packages.
//
// SessionService turns one UI intent (dive, compare, filter, overlap, undo,
// count, enrich, navigate) into the fingerprint-aware operations of the dive
// service and the stack changes of the selection collection. Each intent
// that derives new operations starts a new batch, so results still in
// flight for an earlier intent are discarded when they arrive.
//
// HealthService reports liveness, readiness and cache statistics.
package services
