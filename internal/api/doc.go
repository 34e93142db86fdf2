// Package api implements the HTTP REST API and WebSocket server for the
// cabin audio coordinator.
//
// This package provides:
//   - REST endpoints for stream volume reads and writes, key injection,
//     focus inspection, and the volume change journal
//   - WebSocket hub broadcasting committed volume changes in real time
//   - Bearer token authentication with role-based key injection
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between cabin surfaces (companion apps, in-cabin
// displays, bench rigs) and the volume controller. Writes flow into the
// controller stamped with API provenance; committed changes flow back out
// through a registered volume observer, which the hub fans out to
// subscribed WebSocket clients.
//
// # Security
//
// All routes except /health require a bearer token signed with the shared
// secret. The server only verifies tokens; provisioning tooling mints
// them. Key injection additionally requires the bench or admin role.
// WebSocket clients that cannot set an Authorization header pass the token
// as a query parameter.
//
// # Graceful Degradation
//
// The server operates without the journal, MQTT, database, or vehicle
// link. The affected endpoints report unavailable or omit their sections
// rather than failing startup.
package api
