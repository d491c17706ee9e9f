// Package connection maintains the live channel to a Nexus Learn deployment.
//
// The connection manager:
//   - Owns at most one WebSocket connection to {ws|wss}://<host>/ws/main
//   - Sends an application-level JSON ping at a fixed cadence while connected
//   - Reconnects after a fixed delay when the connection drops, indefinitely
//   - Forwards raw inbound messages to the feed dispatcher
package connection
