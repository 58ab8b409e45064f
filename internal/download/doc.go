// Package download provides a general-purpose asynchronous download
// manager for arbitrary URLs.
//
// # Manager
//
// The Manager keeps a set of active downloads and runs at most a
// configured number of them at once:
//
//  1. StartAsyncDownload records the request and returns its id
//  2. When a slot is free the download starts on its own goroutine
//  3. The body is read block by block; progress is reported and
//     cancellation is checked between blocks
//  4. Failed attempts are retried after a delay, up to a retry limit
//  5. The result is handed back to the owner loop, where the completion
//     callback runs
//
// # Basic Usage
//
//	loop := mainloop.New()
//	manager := download.NewManager(loop, http.NewClient(), download.DefaultOptions())
//
//	loop.Post(func() {
//	    manager.StartAsyncDownload(url, nil, func(r download.Result) {
//	        if !r.OK {
//	            log.Printf("download %d failed: HTTP %d", r.ID, r.StatusCode)
//	            return
//	        }
//	        os.WriteFile("out.bin", r.Data, 0644)
//	    }, nil, nil)
//	})
//
//	loop.Run(ctx)
//
// # Threading
//
// All Manager methods must be called on the loop goroutine. Completion,
// progress and queue-finished callbacks also run there, one at a time and
// never on a download goroutine.
//
// # Retry Logic
//
// Connection failures, broken bodies, HTTP 5xx and HTTP 429 are retried
// RetryLimit times with RetryDelay between attempts. Other statuses end the
// download at once with OK set to false.
//
// # Cancellation
//
// CancelDownload and CancelAllDownloads mark downloads cancelled. A running
// download notices at the next block boundary. Every submitted download
// gets exactly one completion callback; for cancelled downloads it carries
// Cancelled set to true and no data.
package download
