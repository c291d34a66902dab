// Package api implements the HTTP REST API and WebSocket server for devicehub-core.
//
// This package provides:
//   - Read-only REST endpoints for drivers, their components and the metadata
//     archive set
//   - A WebSocket hub that streams registry, metadata and update notifications
//   - Optional HS256 bearer-token authentication
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Endpoints
//
//	GET /api/v1/health
//	GET /api/v1/drivers?category=&feature=
//	GET /api/v1/drivers/stats
//	GET /api/v1/drivers/{id}
//	GET /api/v1/drivers/{id}/{coolers|sensors|lights|monitors}/{componentID}
//	GET /api/v1/drivers/{id}/monitors/{componentID}/settings/{settingID}
//	GET /api/v1/metadata
//	GET /api/v1/bridge/metrics
//	GET /api/v1/channels
//	GET /api/v1/ws
//
// Lookup failures return 404 with a per-resource code such as
// "cooler_not_found".
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":["drivers","cooling"]}}
// and then receive {"type":"event","channel":"<channel>","payload":<envelope>}.
// A slow client loses events rather than stalling the broadcast.
package api
