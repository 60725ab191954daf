// Package server hosts the course management API behind one HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// security headers, CORS, and rate limiting so handlers all share common
// protections and instrumentation. Authorization stays inside the handlers:
// each endpoint consults the guard itself so unauthorized responses carry the
// exact verification failure.
package server
