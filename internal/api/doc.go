// Package api implements the HTTP REST API and WebSocket server for XR Monitor.
//
// This package provides:
//   - REST endpoints for buses, send levels, master faders and the mixer reset
//   - Admin endpoints for user accounts, bus grants, custom names and the audit trail
//   - The web client under /panel/
//   - A WebSocket hub that relays mixer changes to the clients viewing a bus
//   - JWT authentication, with single-use tickets for browser WebSockets
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Presence
//
// Each WebSocket client focuses on at most one bus. The first viewer of a
// bus switches the engine to active polling for it and the last viewer
// leaving switches it back. Disconnecting counts as leaving.
//
// # Authorisation
//
// Admins reach every bus and the admin routes. Regular users see only the
// buses granted to them and cannot touch master faders. Role and grants
// are read from the database per request, so changes apply immediately.
//
// # Graceful Degradation
//
// The server runs while the mixer is unreachable. The bus list is served
// from the cache, snapshots and writes return 503 and /health reports
// "degraded".
package api
