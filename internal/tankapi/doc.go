// Package tankapi is the HTTP client for the tank API, the remote service
// that executes load tests stage by stage.
//
// The tank API exposes four resources:
//   - /run starts a session (POST, body is the test configuration) or moves
//     the breakpoint of an existing one (GET with ?session=)
//   - /stop asks a running session to stop
//   - /status reports every known session, or one with ?session=
//   - /artifact lists or downloads files produced by a test
//
// # Client
//
// Use [New] to build a client from [Options]:
//
//	client, err := tankapi.New(tankapi.Options{
//		BaseURL: "http://tank01:8888",
//		Timeout: 30 * time.Second,
//		Retry:   tankapi.DefaultRetryPolicy(2),
//	})
//	snap, err := client.Status(ctx)
//
// Idempotent GET calls are retried according to [RetryPolicy]; starting a
// session is never retried. Responses are decoded with gjson, so the client
// only depends on the fields it reads.
//
// # Errors
//
// Failures are classified as:
//   - [ErrTransport]: the request could not be sent or no response arrived
//   - [ErrMalformedResponse]: the body lacked the expected fields
//   - [*APIError]: the service answered with a non-2xx status
package tankapi
