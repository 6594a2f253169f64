// Package api provides the REST client for the notification server's auth
// endpoints.
//
// Endpoints:
//   - POST /auth/login    email + password → token pair
//   - POST /auth/refresh  refresh token → token pair
//
// The client retries 5xx and 429 responses with jittered exponential
// backoff. A 401 is returned immediately as an *APIError.
package api
