// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one WebSocket connection to the notification server
//   - Authenticates with an access token carried in the socket URL
//   - Refreshes the token once when the server rejects it (close code 4001)
//   - Handles reconnection with capped exponential backoff
//   - Sends application-level ping frames while connected
//   - Queues outbound messages while disconnected and flushes them in order
//   - Dispatches inbound messages to subscribers by type
package connection
