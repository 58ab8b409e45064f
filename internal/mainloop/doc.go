// Package mainloop provides the single owner context that the tile
// coordinator and the download manager run on.
//
// Background workers never touch shared state directly. Instead they post
// closures to a Loop, and one goroutine executes those closures in order:
//
//	loop := mainloop.New()
//	go loop.Run(ctx)
//
//	// from any goroutine
//	loop.Post(func() {
//	    coordinator.FetchTile(3, 4, 2)
//	})
//
// Post never blocks, so a worker that finishes while the owner is busy
// simply leaves its result in the mailbox.
//
// # Embedding
//
// Programs that already have an event loop (a UI, a test) can drive the
// mailbox themselves with RunPending instead of calling Run.
package mainloop
