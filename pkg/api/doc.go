// Package api exposes the import subsystem over HTTP.
//
// Routes are registered on a gorilla/mux router. Domain errors map to status
// codes in one place: not-found to 404, authorization denial to 403,
// concurrency-gate denial to 429, other conflicts and malformed requests to
// 400, event store failures to 500. Anything unexpected is logged and
// answered with a generic internal error.
package api
