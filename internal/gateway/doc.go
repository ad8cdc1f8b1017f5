// Package gateway orchestrates the courier server components.
//
// # Overview
//
// The gateway owns every long-lived piece of the bot: the user directory, the
// announcement store, the SQLite ledger, the LINE client, the conversation
// machine and the announcement delivery loop. New opens all of them from a
// config.Config; Run serves HTTP and drives the loop until its context ends.
//
// # HTTP Endpoints
//
//   - POST /callback - LINE webhook (signature checked, redeliveries dropped)
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (directory readable)
//
// When auth.jwt_secret is configured the admin API is mounted under /api and
// every request needs an HS256 bearer token:
//
//   - GET /api/users - Registered users in directory order
//   - GET /api/announcements/active - The announcement being delivered
//   - POST /api/announcements - Queue an announcement (409 while one is active)
//   - GET /api/announcements/history - Archived announcements, newest first
//   - GET /api/announcements/history/{name} - One archived announcement
//   - GET /api/announcements/{id}/deliveries - Push attempts for one announcement
//   - GET /api/relays - Relayed messages, newest first (?limit=N)
//   - GET /api/relays/{id} - One relayed message
//
// # Webhook Handling
//
// Events in one callback are handled in order before the response is written.
// Follow, text message and postback events from user sources are passed to
// the conversation machine; everything else is logged and dropped.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is canceled and shutdown completes
//
// Shutdown stops the HTTP server, waits for the current delivery cycle to save
// its progress and closes the ledger.
package gateway
