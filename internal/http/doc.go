// Package http provides the HTTP client used by tile transports and by the
// generic download manager.
//
// The Client in this package handles:
//   - User-Agent headers
//   - Whole-body GET requests for small payloads such as tiles
//   - Streaming requests with a connect-phase timeout
//   - Progress tracking through ProgressWriter
//
// # Basic Usage
//
//	client := http.NewClient()
//
//	// Fetch a tile
//	data, err := client.Get(ctx, "http://a.tile.openstreetmap.org/0/0/0.png")
//
//	// Stream a body block by block
//	resp, err := client.Open(ctx, http.Request{URL: u}, 30*time.Second)
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
//
// # Errors
//
// Get reports non-200 responses as *StatusError. Open returns every
// response and leaves status handling to the caller; it fails with
// ErrConnectTimeout when the headers did not arrive in time.
package http
